package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// fakePlant answers login, heartbeat and subscribe requests.
type fakePlant struct {
	rejectLogin bool
	silentLogin bool
	// dropConn returns true to close connection n right after the upgrade.
	dropConn func(n int32) bool
	// onSubscribe runs after the subscribe response is written.
	// Returning false closes the connection.
	onSubscribe func(conn *websocket.Conn, n int32, req *protocol.MarketDataUpdateRequest) bool

	conns      atomic.Int32
	logins     atomic.Int32
	heartbeats atomic.Int32

	mu   sync.Mutex
	subs []string
	last *protocol.LoginRequest
}

func (p *fakePlant) serve(conn *websocket.Conn) {
	n := p.conns.Add(1)
	if p.dropConn != nil && p.dropConn(n) {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}

		switch m := msg.(type) {
		case *protocol.LoginRequest:
			p.logins.Add(1)
			p.mu.Lock()
			p.last = m
			p.mu.Unlock()
			if p.silentLogin {
				continue
			}
			rp := []string{"0"}
			if p.rejectLogin {
				rp = []string{"13", "permission denied"}
			}
			writeFrame(conn, &protocol.LoginResponse{RPCode: rp, HeartbeatInterval: 60})

		case *protocol.HeartbeatRequest:
			p.heartbeats.Add(1)
			writeFrame(conn, &protocol.HeartbeatResponse{RPCode: []string{"0"}})

		case *protocol.MarketDataUpdateRequest:
			p.mu.Lock()
			p.subs = append(p.subs, m.Symbol+"."+m.Exchange)
			p.mu.Unlock()
			writeFrame(conn, &protocol.MarketDataUpdateResponse{UserMsg: m.UserMsg, RPCode: []string{"0"}})
			if p.onSubscribe != nil && !p.onSubscribe(conn, n, m) {
				return
			}
		}
	}
}

func (p *fakePlant) subscriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subs...)
}

// writeFrame ignores errors; the client may already be gone.
func writeFrame(conn *websocket.Conn, m protocol.Message) {
	_ = conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(m))
}

func startPlant(t *testing.T, p *fakePlant) *httptest.Server {
	t.Helper()
	server := mockWSServer(t, p.serve)
	t.Cleanup(server.Close)
	return server
}

func testConfig(server *httptest.Server) Config {
	cfg := DefaultConfig()
	cfg.URI = wsURL(server)
	cfg.User = "trader"
	cfg.Password = "secret"
	cfg.SystemName = "Rithmic Paper Trading"
	cfg.AppVersion = "test"
	cfg.Symbols = []Subscription{{Symbol: "ES", Exchange: "CME"}}
	cfg.LoginTimeout = 2 * time.Second
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.SubscribeSpacing = 0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_ConnectAuthenticatesAndSubscribes(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)

	var (
		mu     sync.Mutex
		states []State
	)
	client.OnState(StateListenerFunc(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if client.State() != StateAuthenticated {
		t.Errorf("State() = %v, want %v", client.State(), StateAuthenticated)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected() = true")
	}

	waitFor(t, time.Second, "subscription", func() bool { return len(plant.subscriptions()) == 1 })
	if got := plant.subscriptions()[0]; got != "ES.CME" {
		t.Errorf("subscription = %q, want %q", got, "ES.CME")
	}

	plant.mu.Lock()
	login := plant.last
	plant.mu.Unlock()
	if login.User != "trader" || login.Password != "secret" {
		t.Errorf("login credentials = %q/%q, want trader/secret", login.User, login.Password)
	}
	if login.InfraType != protocol.InfraTickerPlant {
		t.Errorf("login InfraType = %v, want %v", login.InfraType, protocol.InfraTickerPlant)
	}
	if login.TemplateVersion != protocol.TemplateVersion {
		t.Errorf("login TemplateVersion = %q, want %q", login.TemplateVersion, protocol.TemplateVersion)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestClient_ConnectIsNoOpWhenAuthenticated(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := plant.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
}

func TestClient_TicksDelivered(t *testing.T) {
	plant := &fakePlant{
		onSubscribe: func(conn *websocket.Conn, n int32, req *protocol.MarketDataUpdateRequest) bool {
			writeFrame(conn, &protocol.BestBidOffer{
				Symbol: req.Symbol, Exchange: req.Exchange,
				PresenceBits: protocol.PresenceBid | protocol.PresenceAsk,
				BidPrice:     4499.75, BidSize: 10, AskPrice: 4500.25, AskSize: 12,
			})
			writeFrame(conn, &protocol.LastTrade{
				Symbol: req.Symbol, Exchange: req.Exchange, TradePrice: 4500.25, TradeSize: 2, SSBOE: 1700000000,
			})
			writeFrame(conn, &protocol.LastTrade{
				Symbol: req.Symbol, Exchange: req.Exchange, TradePrice: 4499.75, TradeSize: 3,
			})
			// Dropped: no size.
			writeFrame(conn, &protocol.LastTrade{
				Symbol: req.Symbol, Exchange: req.Exchange, TradePrice: 4499.75,
			})
			return true
		},
	}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	ticks := make(chan model.MarketTick, 10)
	client.OnTick("ES", TickListenerFunc(func(tick model.MarketTick) error {
		ticks <- tick
		return nil
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	var got []model.MarketTick
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case tick := <-ticks:
			got = append(got, tick)
		case <-timeout:
			t.Fatalf("received %d ticks, want 3", len(got))
		}
	}

	if got[0].Kind != model.TickQuote || got[0].Side != model.SideUnknown || got[0].Volume != 0 {
		t.Errorf("first tick = %+v, want quote with unknown side and no volume", got[0])
	}
	if got[1].Kind != model.TickTrade || got[1].Side != model.SideBuy || got[1].Volume != 2 {
		t.Errorf("second tick = %+v, want buy trade of 2", got[1])
	}
	if !got[1].Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("second tick Timestamp = %v, want exchange time", got[1].Timestamp)
	}
	if got[2].Side != model.SideSell || got[2].Price != 4499.75 {
		t.Errorf("third tick = %+v, want sell at 4499.75", got[2])
	}

	price, ok := client.CurrentPrice("ES")
	if !ok || price != 4499.75 {
		t.Errorf("CurrentPrice() = %v, %v, want 4499.75, true", price, ok)
	}
	bid, ask, ok := client.BidAsk("ES")
	if !ok || bid != 4499.75 || ask != 4500.25 {
		t.Errorf("BidAsk() = %v, %v, %v, want 4499.75, 4500.25, true", bid, ask, ok)
	}

	stats := client.Stats()
	if stats.TradesReceived != 2 {
		t.Errorf("TradesReceived = %d, want 2", stats.TradesReceived)
	}
	if stats.QuotesReceived != 1 {
		t.Errorf("QuotesReceived = %d, want 1", stats.QuotesReceived)
	}
	if stats.LastDataTime.IsZero() {
		t.Error("expected LastDataTime to be set")
	}
}

func TestClient_ListenerPanicIsolated(t *testing.T) {
	plant := &fakePlant{
		onSubscribe: func(conn *websocket.Conn, n int32, req *protocol.MarketDataUpdateRequest) bool {
			writeFrame(conn, &protocol.LastTrade{Symbol: "ES", Exchange: "CME", TradePrice: 4500, TradeSize: 1})
			return true
		},
	}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	client.OnTick("ES", TickListenerFunc(func(model.MarketTick) error {
		panic("boom")
	}))
	client.OnTick("ES", TickListenerFunc(func(model.MarketTick) error {
		return errors.New("listener error")
	}))
	received := make(chan model.MarketTick, 1)
	client.OnTick("", TickListenerFunc(func(tick model.MarketTick) error {
		received <- tick
		return nil
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	select {
	case tick := <-received:
		if tick.Price != 4500 {
			t.Errorf("Price = %v, want 4500", tick.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick not delivered to healthy listener")
	}

	if got := client.Stats().ListenerErrors; got != 2 {
		t.Errorf("ListenerErrors = %d, want 2", got)
	}
	if client.State() != StateAuthenticated {
		t.Errorf("State() = %v, want %v", client.State(), StateAuthenticated)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	plant := &fakePlant{rejectLogin: true}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	err := client.Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Connect() error = %v, want ErrAuth", err)
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("error %q does not carry the plant's reason", err)
	}
	if client.State() != StateFailed {
		t.Errorf("State() = %v, want %v", client.State(), StateFailed)
	}
}

func TestClient_LoginTimeout(t *testing.T) {
	plant := &fakePlant{silentLogin: true}
	server := startPlant(t, plant)

	cfg := testConfig(server)
	cfg.LoginTimeout = 100 * time.Millisecond
	client := NewClient(cfg, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrAuthTimeout) {
		t.Fatalf("Connect() error = %v, want ErrAuthTimeout", err)
	}
	if client.State() != StateFailed {
		t.Errorf("State() = %v, want %v", client.State(), StateFailed)
	}
}

func TestClient_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(server)
	server.Close()

	client := NewClient(cfg, nil)
	err := client.Connect(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Connect() error = %v, want ErrConnect", err)
	}
	if client.State() != StateFailed {
		t.Errorf("State() = %v, want %v", client.State(), StateFailed)
	}

	// Failed may connect again.
	err = client.Connect(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Errorf("second Connect() error = %v, want ErrConnect", err)
	}
	if got := client.Stats().ConnectionAttempts; got != 2 {
		t.Errorf("ConnectionAttempts = %d, want 2", got)
	}
}

func TestClient_SubscribeRequiresAuthentication(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	err := client.Subscribe(context.Background(), "NQ", "CME")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Subscribe() error = %v, want ErrNotAuthenticated", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", client.State(), StateDisconnected)
	}
}

func TestClient_SubscribeWhileAuthenticated(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Subscribe(context.Background(), "NQ", "CME"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitFor(t, time.Second, "two subscriptions", func() bool { return len(plant.subscriptions()) == 2 })
	if got := client.Stats().Subscriptions; got != 2 {
		t.Errorf("Subscriptions = %d, want 2", got)
	}
}

func TestClient_HeartbeatOnQuietFeed(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	cfg := testConfig(server)
	cfg.HeartbeatInterval = 30 * time.Millisecond
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	waitFor(t, 2*time.Second, "heartbeat", func() bool { return plant.heartbeats.Load() > 0 })
	if client.Stats().HeartbeatsSent == 0 {
		t.Error("expected HeartbeatsSent > 0")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	plant := &fakePlant{
		// The first session is dropped once it has subscribed.
		onSubscribe: func(conn *websocket.Conn, n int32, req *protocol.MarketDataUpdateRequest) bool {
			return n > 1
		},
	}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	waitFor(t, 3*time.Second, "second session", func() bool {
		return plant.conns.Load() == 2 && len(plant.subscriptions()) == 2
	})
	waitFor(t, time.Second, "authenticated", func() bool { return client.State() == StateAuthenticated })

	subs := plant.subscriptions()
	if subs[1] != "ES.CME" {
		t.Errorf("resubscription = %q, want %q", subs[1], "ES.CME")
	}
	if got := client.Stats().ReconnectCount; got != 1 {
		t.Errorf("ReconnectCount = %d, want 1", got)
	}
}

func TestClient_ReconnectExhaustion(t *testing.T) {
	plant := &fakePlant{
		dropConn: func(n int32) bool { return n > 1 },
		onSubscribe: func(conn *websocket.Conn, n int32, req *protocol.MarketDataUpdateRequest) bool {
			return false
		},
	}
	server := startPlant(t, plant)

	cfg := testConfig(server)
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	client := NewClient(cfg, nil)

	var (
		mu     sync.Mutex
		states []State
	)
	client.OnState(StateListenerFunc(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	waitFor(t, 3*time.Second, "failed state", func() bool { return client.State() == StateFailed })

	if got := client.Stats().ReconnectCount; got != 2 {
		t.Errorf("ReconnectCount = %d, want 2", got)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range states {
		if s == StateDisconnected {
			t.Errorf("states = %v, Disconnected must not appear during a reconnect cycle", states)
			break
		}
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Disconnect()
	client.Disconnect()

	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", client.State(), StateDisconnected)
	}
	if err := client.Subscribe(context.Background(), "ES", "CME"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Subscribe() after Disconnect error = %v, want ErrNotAuthenticated", err)
	}

	// A fresh Connect works after Disconnect.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect after Disconnect failed: %v", err)
	}
	defer client.Disconnect()
	if client.State() != StateAuthenticated {
		t.Errorf("State() = %v, want %v", client.State(), StateAuthenticated)
	}
}

func TestClient_StopWithTimeout(t *testing.T) {
	plant := &fakePlant{}
	server := startPlant(t, plant)

	client := NewClient(testConfig(server), nil)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", client.State(), StateDisconnected)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{5, 25 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(base, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}
