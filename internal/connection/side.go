package connection

import (
	"math"
	"sync"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
)

// ClassifySide infers the aggressor of a trade.
//
// With a two-sided quote, prints at or through the bid are sells and at or
// through the ask are buys. Inside the spread the tick rule against the
// previous trade decides, and an unchanged price goes to the nearer side of
// the quote (ties to buy). Without a quote only the tick rule applies; an
// unchanged price flips the previous side. The first trade ever is a buy.
func ClassifySide(price, bid, ask float64, prevPrice float64, hasPrev bool, prevSide model.Side) model.Side {
	if bid > 0 && ask > 0 {
		switch {
		case price <= bid:
			return model.SideSell
		case price >= ask:
			return model.SideBuy
		}
		if hasPrev {
			switch {
			case price > prevPrice:
				return model.SideBuy
			case price < prevPrice:
				return model.SideSell
			}
		}
		if math.Abs(price-bid) < math.Abs(price-ask) {
			return model.SideSell
		}
		return model.SideBuy
	}

	if hasPrev {
		switch {
		case price > prevPrice:
			return model.SideBuy
		case price < prevPrice:
			return model.SideSell
		}
		if prevSide != model.SideUnknown {
			return prevSide.Opposite()
		}
	}
	return model.SideBuy
}

type symbolState struct {
	exchange  string
	bid       float64
	ask       float64
	lastPrice float64
	lastSide  model.Side
	hasTrade  bool
	lastTrade model.MarketTick
}

// marketState is the per-symbol book top and last trade.
type marketState struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
}

func newMarketState() *marketState {
	return &marketState{symbols: make(map[string]*symbolState)}
}

func (m *marketState) get(symbol string) *symbolState {
	s, ok := m.symbols[symbol]
	if !ok {
		s = &symbolState{}
		m.symbols[symbol] = s
	}
	return s
}

// applyTrade classifies the trade against the state before the trade, then records it.
func (m *marketState) applyTrade(t *protocol.LastTrade, receivedAt time.Time) model.MarketTick {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(t.Symbol)
	side := ClassifySide(t.TradePrice, s.bid, s.ask, s.lastPrice, s.hasTrade, s.lastSide)

	ts := t.Time()
	if ts.IsZero() {
		ts = receivedAt
	}

	tick := model.MarketTick{
		Symbol:     t.Symbol,
		Exchange:   t.Exchange,
		Price:      t.TradePrice,
		Volume:     int64(t.TradeSize),
		Bid:        s.bid,
		Ask:        s.ask,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Kind:       model.TickTrade,
		Side:       side,
	}

	s.exchange = t.Exchange
	s.lastPrice = t.TradePrice
	s.lastSide = side
	s.hasTrade = true
	s.lastTrade = tick
	return tick
}

// applyQuote updates only the sides present in the frame. The tick price is
// the last trade, or the midpoint before any trade is seen.
func (m *marketState) applyQuote(q *protocol.BestBidOffer, receivedAt time.Time) model.MarketTick {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(q.Symbol)
	if q.HasBid() {
		s.bid = q.BidPrice
	}
	if q.HasAsk() {
		s.ask = q.AskPrice
	}
	if q.Exchange != "" {
		s.exchange = q.Exchange
	}

	price := s.lastPrice
	if !s.hasTrade && s.bid > 0 && s.ask > 0 {
		price = (s.bid + s.ask) / 2
	}

	ts := q.Time()
	if ts.IsZero() {
		ts = receivedAt
	}

	return model.MarketTick{
		Symbol:     q.Symbol,
		Exchange:   s.exchange,
		Price:      price,
		Bid:        s.bid,
		Ask:        s.ask,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Kind:       model.TickQuote,
		Side:       model.SideUnknown,
	}
}

func (m *marketState) lastPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok || !s.hasTrade {
		return 0, false
	}
	return s.lastPrice, true
}

func (m *marketState) bidAsk(symbol string) (bid, ask float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, found := m.symbols[symbol]
	if !found || (s.bid == 0 && s.ask == 0) {
		return 0, 0, false
	}
	return s.bid, s.ask, true
}

func (m *marketState) lastTrade(symbol string) (model.MarketTick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok || !s.hasTrade {
		return model.MarketTick{}, false
	}
	return s.lastTrade, true
}
