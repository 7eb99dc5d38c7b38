package connection

import (
	"testing"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
)

func TestClassifySide(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		bid, ask  float64
		prevPrice float64
		hasPrev   bool
		prevSide  model.Side
		want      model.Side
	}{
		{"at ask", 4500.25, 4500.00, 4500.25, 0, false, model.SideUnknown, model.SideBuy},
		{"through ask", 4500.50, 4500.00, 4500.25, 0, false, model.SideUnknown, model.SideBuy},
		{"at bid", 4500.00, 4500.00, 4500.25, 0, false, model.SideUnknown, model.SideSell},
		{"through bid", 4499.75, 4500.00, 4500.25, 0, false, model.SideUnknown, model.SideSell},
		{"inside spread uptick", 4500.25, 4500.00, 4500.50, 4500.00, true, model.SideSell, model.SideBuy},
		{"inside spread downtick", 4500.25, 4500.00, 4500.50, 4500.50, true, model.SideBuy, model.SideSell},
		{"inside spread unchanged nearer bid", 4500.10, 4500.00, 4500.50, 4500.10, true, model.SideBuy, model.SideSell},
		{"inside spread unchanged nearer ask", 4500.40, 4500.00, 4500.50, 4500.40, true, model.SideSell, model.SideBuy},
		{"inside spread exact middle", 4500.25, 4500.00, 4500.50, 4500.25, true, model.SideSell, model.SideBuy},
		{"no quote uptick", 4500.25, 0, 0, 4500.00, true, model.SideSell, model.SideBuy},
		{"no quote downtick", 4499.75, 0, 0, 4500.00, true, model.SideBuy, model.SideSell},
		{"no quote unchanged flips buy", 4500.00, 0, 0, 4500.00, true, model.SideBuy, model.SideSell},
		{"no quote unchanged flips sell", 4500.00, 0, 0, 4500.00, true, model.SideSell, model.SideBuy},
		{"one-sided quote uses tick rule", 4499.75, 4500.00, 0, 4500.00, true, model.SideBuy, model.SideSell},
		{"first trade", 4500.00, 0, 0, 0, false, model.SideUnknown, model.SideBuy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySide(tt.price, tt.bid, tt.ask, tt.prevPrice, tt.hasPrev, tt.prevSide)
			if got != tt.want {
				t.Errorf("ClassifySide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarketState_ComparesAgainstPreviousTrade(t *testing.T) {
	m := newMarketState()
	now := time.Now()

	first := m.applyTrade(&protocol.LastTrade{Symbol: "ES", TradePrice: 4500, TradeSize: 1}, now)
	if first.Side != model.SideBuy {
		t.Errorf("first trade Side = %v, want %v", first.Side, model.SideBuy)
	}

	up := m.applyTrade(&protocol.LastTrade{Symbol: "ES", TradePrice: 4500.25, TradeSize: 1}, now)
	if up.Side != model.SideBuy {
		t.Errorf("uptick Side = %v, want %v", up.Side, model.SideBuy)
	}

	same := m.applyTrade(&protocol.LastTrade{Symbol: "ES", TradePrice: 4500.25, TradeSize: 1}, now)
	if same.Side != model.SideSell {
		t.Errorf("unchanged Side = %v, want %v (flip)", same.Side, model.SideSell)
	}

	down := m.applyTrade(&protocol.LastTrade{Symbol: "ES", TradePrice: 4500.00, TradeSize: 1}, now)
	if down.Side != model.SideSell {
		t.Errorf("downtick Side = %v, want %v", down.Side, model.SideSell)
	}

	// Symbols are independent.
	nq := m.applyTrade(&protocol.LastTrade{Symbol: "NQ", TradePrice: 15000, TradeSize: 1}, now)
	if nq.Side != model.SideBuy {
		t.Errorf("NQ first trade Side = %v, want %v", nq.Side, model.SideBuy)
	}
}

func TestMarketState_QuoteUpdatesPresentSidesOnly(t *testing.T) {
	m := newMarketState()
	now := time.Now()

	m.applyQuote(&protocol.BestBidOffer{Symbol: "ES", PresenceBits: protocol.PresenceBid | protocol.PresenceAsk, BidPrice: 4500, AskPrice: 4500.25}, now)
	tick := m.applyQuote(&protocol.BestBidOffer{Symbol: "ES", PresenceBits: protocol.PresenceAsk, AskPrice: 4500.50}, now)

	if tick.Bid != 4500 {
		t.Errorf("Bid = %v, want 4500 (unchanged)", tick.Bid)
	}
	if tick.Ask != 4500.50 {
		t.Errorf("Ask = %v, want 4500.50", tick.Ask)
	}
	if tick.Side != model.SideUnknown || tick.Volume != 0 {
		t.Errorf("quote tick Side/Volume = %v/%d, want unknown/0", tick.Side, tick.Volume)
	}
	if tick.Kind != model.TickQuote {
		t.Errorf("Kind = %v, want %v", tick.Kind, model.TickQuote)
	}

	if _, ok := m.lastPrice("ES"); ok {
		t.Error("quotes must not set the last trade price")
	}
}
