package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
	"github.com/rickgao/levelwatch/internal/router"
)

// allSymbols is the OnTick key that matches every symbol.
const allSymbols = ""

// session is one transport plus the goroutine consuming it.
type session struct {
	transport *transport
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the consumer exits
	login     chan *protocol.LoginResponse

	closing   atomic.Bool // set by teardown
	lost      atomic.Bool // set by the consumer on transport loss
	handedOff atomic.Bool
	closeOnce sync.Once
}

// Client is the protocol client for one plant.
type Client struct {
	cfg    Config
	logger *slog.Logger
	router *router.Router
	market *marketState

	// connectMu serializes connect attempts from Connect and the supervisor.
	connectMu sync.Mutex

	// notifyMu orders state notifications the same as state changes.
	notifyMu sync.Mutex
	stateMu  sync.Mutex
	state    State
	gen      uint64 // bumped by Disconnect; stale connect attempts compare against it
	attempt  int

	sessMu sync.Mutex
	sess   *session

	superMu     sync.Mutex
	superCtx    context.Context
	superCancel context.CancelFunc
	superWG     sync.WaitGroup

	listenersMu    sync.RWMutex
	tickListeners  map[string][]TickListener
	stateListeners []StateListener

	subsMu sync.Mutex
	subs   []Subscription

	trades            atomic.Int64
	quotes            atomic.Int64
	connAttempts      atomic.Int64
	reconnects        atomic.Int64
	heartbeatsSent    atomic.Int64
	heartbeatFailures atomic.Int64
	listenerErrors    atomic.Int64
	lastData          atomic.Int64 // unix nanos

	startTime time.Time
}

// NewClient creates a protocol client. It does not connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:           cfg,
		logger:        logger.With("component", "protocol_client"),
		market:        newMarketState(),
		tickListeners: make(map[string][]TickListener),
		startTime:     time.Now(),
	}
	for _, sub := range cfg.Symbols {
		c.remember(sub)
	}

	c.router = router.New(router.Table{
		protocol.TemplateLoginResponse:            c.handleLoginResponse,
		protocol.TemplateHeartbeatResponse:        c.handleHeartbeatResponse,
		protocol.TemplateMarketDataUpdateResponse: c.handleSubscribeResponse,
		protocol.TemplateLastTrade:                c.handleLastTrade,
		protocol.TemplateBestBidOffer:             c.handleBestBidOffer,
	}, c.logger)

	return c
}

// Start connects. It satisfies the component lifecycle used by cmd/.
func (c *Client) Start(ctx context.Context) error {
	return c.Connect(ctx)
}

// Stop disconnects, giving up waiting when ctx expires.
func (c *Client) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("shutdown timeout, abandoning disconnect")
		return ctx.Err()
	}
}

// Connect dials, logs in and subscribes. It is a no-op while a session is
// active or being established.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.stateMu.Lock()
	if c.state.active() {
		c.stateMu.Unlock()
		return nil
	}
	gen := c.gen
	c.stateMu.Unlock()

	c.superMu.Lock()
	if c.superCtx == nil {
		c.superCtx, c.superCancel = context.WithCancel(context.Background())
	}
	c.superMu.Unlock()

	return c.connect(ctx, gen, false)
}

// connect runs one full connect cycle. When reconnecting, transient failures
// leave the client in Reconnecting for the supervisor to retry.
func (c *Client) connect(ctx context.Context, gen uint64, reconnecting bool) error {
	c.connAttempts.Add(1)
	if !c.transitionIf(gen, StateConnecting) {
		return ErrInterrupted
	}

	fail := func(err error) error {
		next := StateFailed
		if reconnecting && !errors.Is(err, ErrAuth) && !errors.Is(err, ErrAuthTimeout) {
			next = StateReconnecting
		}
		c.transitionIf(gen, next)
		return err
	}

	tlsCfg, err := loadTLSConfig(c.cfg.CACertPath)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrConnect, err))
	}

	t := newTransport(transportConfig{
		URL:          c.cfg.URI,
		TLS:          tlsCfg,
		WriteTimeout: c.cfg.WriteTimeout,
		PingInterval: c.cfg.PingInterval,
		PingTimeout:  c.cfg.PingTimeout,
		BufferSize:   c.cfg.BufferSize,
	}, c.logger)

	if err := t.Connect(ctx); err != nil {
		c.logger.Warn("dial failed", "uri", c.cfg.URI, "error", err)
		return fail(fmt.Errorf("%w: %v", ErrConnect, err))
	}

	s := c.newSession(t)
	if !c.transitionIf(gen, StateConnected) {
		c.teardown(s)
		return ErrInterrupted
	}
	go c.consume(s)

	if !c.transitionIf(gen, StateAuthenticating) {
		c.teardown(s)
		return ErrInterrupted
	}
	if err := c.authenticate(ctx, s); err != nil {
		interrupted := s.closing.Load()
		c.teardown(s)
		if interrupted {
			return ErrInterrupted
		}
		c.logger.Error("login failed", "error", err)
		return fail(err)
	}

	c.stateMu.Lock()
	c.attempt = 0
	c.stateMu.Unlock()
	if !c.transitionIf(gen, StateAuthenticated) {
		c.teardown(s)
		return ErrInterrupted
	}

	// The transport may have dropped between the login response and now.
	if s.lost.Load() {
		c.handOff(s)
		return nil
	}

	c.resubscribe(ctx, s)
	return nil
}

func (c *Client) newSession(t *transport) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		transport: t,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		login:     make(chan *protocol.LoginResponse, 1),
	}
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
	return s
}

func (c *Client) currentSession() *session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sess
}

// teardown stops the consumer, then closes the transport. Only the first call
// for a session does anything. Must not be called from the consumer goroutine.
func (c *Client) teardown(s *session) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		<-s.done
		if err := s.transport.Close(); err != nil {
			c.logger.Debug("error closing transport", "error", err)
		}
		c.sessMu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		c.sessMu.Unlock()
	})
}

func (c *Client) authenticate(ctx context.Context, s *session) error {
	req := &protocol.LoginRequest{
		TemplateVersion: protocol.TemplateVersion,
		UserMsg:         []string{"login"},
		User:            c.cfg.User,
		Password:        c.cfg.Password,
		AppName:         c.cfg.AppName,
		AppVersion:      c.cfg.AppVersion,
		SystemName:      c.cfg.SystemName,
		InfraType:       c.cfg.InfraType,
	}
	if err := s.transport.Send(protocol.Encode(req)); err != nil {
		return fmt.Errorf("%w: send login: %v", ErrTransportLost, err)
	}

	timer := time.NewTimer(c.cfg.LoginTimeout)
	defer timer.Stop()

	select {
	case resp := <-s.login:
		if !resp.OK() {
			return fmt.Errorf("%w: %s", ErrAuth, resp.Reason())
		}
		c.logger.Info("logged in",
			"system", c.cfg.SystemName,
			"fcm_id", resp.FCMID,
			"heartbeat_interval", resp.HeartbeatInterval,
		)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrAuthTimeout, c.cfg.LoginTimeout)
	case <-s.done:
		return fmt.Errorf("%w: during login", ErrTransportLost)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe requests trades and quotes for a symbol. The pair is remembered
// and re-subscribed after every reconnect.
func (c *Client) Subscribe(ctx context.Context, symbol, exchange string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != StateAuthenticated {
		return fmt.Errorf("%w: subscribe %s.%s", ErrNotAuthenticated, symbol, exchange)
	}
	s := c.currentSession()
	if s == nil {
		return fmt.Errorf("%w: subscribe %s.%s", ErrNotAuthenticated, symbol, exchange)
	}

	sub := Subscription{Symbol: symbol, Exchange: exchange}
	c.remember(sub)
	return c.sendSubscribe(s, sub)
}

func (c *Client) remember(sub Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, existing := range c.subs {
		if existing == sub {
			return
		}
	}
	c.subs = append(c.subs, sub)
}

func (c *Client) subscriptions() []Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	out := make([]Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

func (c *Client) sendSubscribe(s *session, sub Subscription) error {
	req := &protocol.MarketDataUpdateRequest{
		UserMsg:    []string{sub.Symbol},
		Symbol:     sub.Symbol,
		Exchange:   sub.Exchange,
		Request:    protocol.RequestSubscribe,
		UpdateBits: protocol.UpdateLastTrade | protocol.UpdateBBO,
	}
	if err := s.transport.Send(protocol.Encode(req)); err != nil {
		return fmt.Errorf("subscribe %s.%s: %w", sub.Symbol, sub.Exchange, err)
	}
	c.logger.Info("subscribed", "symbol", sub.Symbol, "exchange", sub.Exchange)
	return nil
}

func (c *Client) resubscribe(ctx context.Context, s *session) {
	for i, sub := range c.subscriptions() {
		if i > 0 && c.cfg.SubscribeSpacing > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-time.After(c.cfg.SubscribeSpacing):
			}
		}
		if err := c.sendSubscribe(s, sub); err != nil {
			c.logger.Warn("subscription failed", "symbol", sub.Symbol, "error", err)
		}
	}
}

// Disconnect stops reconnection and the consumer, closes the transport and
// forces Disconnected. It must not be called from a listener.
func (c *Client) Disconnect() {
	c.superMu.Lock()
	if c.superCancel != nil {
		c.superCancel()
	}
	c.superCtx, c.superCancel = nil, nil
	c.superMu.Unlock()

	c.stateMu.Lock()
	c.gen++
	c.stateMu.Unlock()

	c.superWG.Wait()
	if s := c.currentSession(); s != nil {
		c.teardown(s)
	}
	c.transition(0, StateDisconnected, true)
}

// consume routes frames until the session ends. It is the only goroutine
// that dispatches ticks for this session.
func (c *Client) consume(s *session) {
	defer close(s.done)

	failures := 0
	timer := time.NewTimer(c.cfg.HeartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-s.transport.Errors():
			c.drain(s)
			c.connectionLost(s, fmt.Errorf("%w: %v", ErrTransportLost, err))
			return

		case msg := <-s.transport.Messages():
			c.lastData.Store(msg.ReceivedAt.UnixNano())
			c.router.Route(msg.Data, msg.ReceivedAt)
			failures = 0
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.cfg.HeartbeatInterval)

		case <-timer.C:
			if err := c.sendHeartbeat(s); err != nil {
				failures++
				c.heartbeatFailures.Add(1)
				c.logger.Warn("heartbeat failed", "failures", failures, "error", err)
				if failures >= maxHeartbeatFailures {
					c.connectionLost(s, fmt.Errorf("%w: %d heartbeat failures", ErrTransportLost, failures))
					return
				}
			} else {
				failures = 0
			}
			timer.Reset(c.cfg.HeartbeatInterval)
		}
	}
}

// drain routes frames that were read before the transport failed.
func (c *Client) drain(s *session) {
	for {
		select {
		case msg := <-s.transport.Messages():
			c.router.Route(msg.Data, msg.ReceivedAt)
		default:
			return
		}
	}
}

func (c *Client) sendHeartbeat(s *session) error {
	now := time.Now()
	hb := &protocol.HeartbeatRequest{
		SSBOE: int32(now.Unix()),
		USecs: int32(now.Nanosecond() / 1000),
	}
	if err := s.transport.Send(protocol.Encode(hb)); err != nil {
		return err
	}
	c.heartbeatsSent.Add(1)
	return nil
}

// connectionLost records the loss of a session. Losses before
// authentication surface through session.done in connect instead.
func (c *Client) connectionLost(s *session, err error) {
	if s.closing.Load() {
		return
	}
	s.lost.Store(true)
	c.logger.Warn("connection lost", "state", c.State(), "error", err)
	c.handOff(s)
}

// handOff starts the supervisor for a lost authenticated session, once.
func (c *Client) handOff(s *session) {
	c.stateMu.Lock()
	state, gen := c.state, c.gen
	c.stateMu.Unlock()
	if state != StateAuthenticated {
		return
	}
	if !s.handedOff.CompareAndSwap(false, true) {
		return
	}

	c.superMu.Lock()
	defer c.superMu.Unlock()
	if c.superCtx == nil || c.superCtx.Err() != nil {
		return
	}
	c.superWG.Add(1)
	go c.supervise(c.superCtx, gen, s)
}

// supervise reconnects with a linear backoff until authenticated, out of
// attempts, or cancelled.
func (c *Client) supervise(ctx context.Context, gen uint64, lost *session) {
	defer c.superWG.Done()

	if !c.transitionIf(gen, StateReconnecting) {
		return
	}
	c.teardown(lost)

	for {
		c.stateMu.Lock()
		if c.gen != gen {
			c.stateMu.Unlock()
			return
		}
		if c.attempt >= c.cfg.MaxReconnectAttempts {
			attempts := c.attempt
			c.stateMu.Unlock()
			c.logger.Error("reconnect attempts exhausted", "attempts", attempts)
			c.transitionIf(gen, StateFailed)
			return
		}
		c.attempt++
		attempt := c.attempt
		c.stateMu.Unlock()

		delay := backoffDelay(c.cfg.ReconnectBaseDelay, attempt)
		c.reconnects.Add(1)
		c.logger.Info("attempting reconnection",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxReconnectAttempts,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.connectMu.Lock()
		err := c.connect(ctx, gen, true)
		c.connectMu.Unlock()

		switch {
		case err == nil:
			c.logger.Info("reconnected", "attempt", attempt)
			return
		case errors.Is(err, ErrInterrupted), ctx.Err() != nil:
			return
		case c.State() == StateFailed:
			return
		}
		c.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
	}
}

// backoffDelay is linear: attempt n waits base*n.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// transitionIf changes state unless a Disconnect happened since gen was read.
func (c *Client) transitionIf(gen uint64, to State) bool {
	return c.transition(gen, to, false)
}

func (c *Client) transition(gen uint64, to State, force bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.stateMu.Lock()
	if !force && c.gen != gen {
		c.stateMu.Unlock()
		return false
	}
	from := c.state
	if from == to {
		c.stateMu.Unlock()
		return true
	}
	if !force && !canTransition(from, to) {
		c.stateMu.Unlock()
		c.logger.Warn("invalid state transition", "from", from, "to", to)
		return false
	}
	c.state = to
	c.stateMu.Unlock()

	c.logger.Info("connection state changed", "from", from, "to", to)

	c.listenersMu.RLock()
	listeners := append([]StateListener(nil), c.stateListeners...)
	c.listenersMu.RUnlock()
	for _, l := range listeners {
		c.notifyState(l, to)
	}
	return true
}

// OnTick registers a listener for one symbol, or for every symbol when
// symbol is empty.
func (c *Client) OnTick(symbol string, l TickListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.tickListeners[symbol] = append(c.tickListeners[symbol], l)
}

// OnState registers a state listener.
func (c *Client) OnState(l StateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.stateListeners = append(c.stateListeners, l)
}

func (c *Client) dispatchTick(tick model.MarketTick) {
	c.listenersMu.RLock()
	listeners := make([]TickListener, 0, len(c.tickListeners[tick.Symbol])+len(c.tickListeners[allSymbols]))
	listeners = append(listeners, c.tickListeners[tick.Symbol]...)
	if tick.Symbol != allSymbols {
		listeners = append(listeners, c.tickListeners[allSymbols]...)
	}
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		c.notifyTick(l, tick)
	}
}

func (c *Client) notifyTick(l TickListener, tick model.MarketTick) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerErrors.Add(1)
			c.logger.Error("tick listener panicked", "symbol", tick.Symbol, "panic", r)
		}
	}()
	if err := l.OnTick(tick); err != nil {
		c.listenerErrors.Add(1)
		c.logger.Warn("tick listener failed", "symbol", tick.Symbol, "error", err)
	}
}

func (c *Client) notifyState(l StateListener, state State) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerErrors.Add(1)
			c.logger.Error("state listener panicked", "state", state, "panic", r)
		}
	}()
	l.OnState(state)
}

// Frame handlers. They run on the consumer goroutine.

func (c *Client) handleLoginResponse(f router.Frame) error {
	msg, err := protocol.DecodeAs(f.TemplateID, f.Data)
	if err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	resp := msg.(*protocol.LoginResponse)

	s := c.currentSession()
	if s == nil {
		return nil
	}
	select {
	case s.login <- resp:
	default:
		c.logger.Debug("unexpected login response", "rp_code", resp.RPCode)
	}
	return nil
}

func (c *Client) handleHeartbeatResponse(f router.Frame) error {
	c.logger.Debug("heartbeat acknowledged")
	return nil
}

func (c *Client) handleSubscribeResponse(f router.Frame) error {
	msg, err := protocol.DecodeAs(f.TemplateID, f.Data)
	if err != nil {
		return fmt.Errorf("decode subscribe response: %w", err)
	}
	resp := msg.(*protocol.MarketDataUpdateResponse)
	if !resp.OK() {
		c.logger.Warn("subscription rejected", "user_msg", resp.UserMsg, "reason", resp.Reason())
		return nil
	}
	c.logger.Debug("subscription confirmed", "user_msg", resp.UserMsg)
	return nil
}

func (c *Client) handleLastTrade(f router.Frame) error {
	msg, err := protocol.DecodeAs(f.TemplateID, f.Data)
	if err != nil {
		return fmt.Errorf("decode last trade: %w", err)
	}
	lt := msg.(*protocol.LastTrade)
	if lt.TradePrice <= 0 || lt.TradeSize <= 0 {
		c.logger.Debug("dropping empty trade", "symbol", lt.Symbol, "price", lt.TradePrice, "size", lt.TradeSize)
		return nil
	}

	tick := c.market.applyTrade(lt, f.ReceivedAt)
	c.trades.Add(1)
	c.dispatchTick(tick)
	return nil
}

func (c *Client) handleBestBidOffer(f router.Frame) error {
	msg, err := protocol.DecodeAs(f.TemplateID, f.Data)
	if err != nil {
		return fmt.Errorf("decode best bid offer: %w", err)
	}
	bbo := msg.(*protocol.BestBidOffer)
	if !bbo.HasBid() && !bbo.HasAsk() {
		return nil
	}

	tick := c.market.applyQuote(bbo, f.ReceivedAt)
	c.quotes.Add(1)
	c.dispatchTick(tick)
	return nil
}

// State returns the current state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsConnected reports whether the session is authenticated.
func (c *Client) IsConnected() bool {
	return c.State() == StateAuthenticated
}

// CurrentPrice returns the last trade price for a symbol.
func (c *Client) CurrentPrice(symbol string) (float64, bool) {
	return c.market.lastPrice(symbol)
}

// BidAsk returns the last known top of book for a symbol.
func (c *Client) BidAsk(symbol string) (bid, ask float64, ok bool) {
	return c.market.bidAsk(symbol)
}

// LastTrade returns the last trade tick for a symbol.
func (c *Client) LastTrade(symbol string) (model.MarketTick, bool) {
	return c.market.lastTrade(symbol)
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	var lastData time.Time
	if n := c.lastData.Load(); n > 0 {
		lastData = time.Unix(0, n)
	}
	return Stats{
		State:              c.State(),
		TradesReceived:     c.trades.Load(),
		QuotesReceived:     c.quotes.Load(),
		ConnectionAttempts: c.connAttempts.Load(),
		ReconnectCount:     c.reconnects.Load(),
		HeartbeatsSent:     c.heartbeatsSent.Load(),
		HeartbeatFailures:  c.heartbeatFailures.Load(),
		ListenerErrors:     c.listenerErrors.Load(),
		Subscriptions:      len(c.subscriptions()),
		LastDataTime:       lastData,
		StartTime:          c.startTime,
		Uptime:             time.Since(c.startTime),
		Router:             c.router.Stats(),
	}
}
