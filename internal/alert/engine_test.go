package alert

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
)

type sentMessage struct {
	message  string
	priority model.AlertPriority
}

// recordingNotifier records messages and returns ok for every send.
type recordingNotifier struct {
	mu   sync.Mutex
	ok   bool
	sent []sentMessage
}

func (n *recordingNotifier) Send(_ context.Context, message string, priority model.AlertPriority) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{message, priority})
	return n.ok
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.message
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type staticSource map[string][]model.StructuralLevel

func (s staticSource) Levels(symbol string) []model.StructuralLevel { return s[symbol] }

func newTestEngine(t *testing.T, source LevelSource) (*Engine, *recordingNotifier, *fakeClock) {
	t.Helper()
	n := &recordingNotifier{ok: true}
	clk := &fakeClock{t: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)}
	e := NewEngine(DefaultConfig(), n, source, nil)
	e.now = clk.Now
	return e, n, clk
}

func priceAboveRule(id string, threshold float64) model.AlertRule {
	return model.AlertRule{
		ID:         id,
		Symbol:     "ES",
		Kind:       model.AlertCustom,
		Priority:   model.AlertHigh,
		Conditions: map[string]float64{CondPriceAbove: threshold},
		Active:     true,
	}
}

func TestEngine_PriceAboveFiresOnce(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	if err := e.AddRule(priceAboveRule("es-4485", 4485)); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	for _, p := range []float64{4480, 4483, 4486, 4487, 4490} {
		e.UpdatePrice("ES", p)
		clk.Advance(time.Second)
	}

	got := n.messages()
	if len(got) != 1 {
		t.Fatalf("alerts = %v, want exactly one", got)
	}
	if want := "ES broke above 4485.00: 4486.00"; got[0] != want {
		t.Errorf("message = %q, want %q", got[0], want)
	}
	alerts := e.RecentAlerts(0)
	if len(alerts) != 1 || alerts[0].Price != 4486 || alerts[0].RuleID != "es-4485" {
		t.Errorf("history = %+v", alerts)
	}
	if s := e.Stats(); s.AlertsSent != 1 || s.AlertsSuppressed != 0 {
		t.Errorf("sent/suppressed = %d/%d, want 1/0", s.AlertsSent, s.AlertsSuppressed)
	}
}

func TestEngine_PriceBelow(t *testing.T) {
	e, n, _ := newTestEngine(t, nil)
	rule := priceAboveRule("es-below", 0)
	rule.Conditions = map[string]float64{CondPriceBelow: 4400}
	_ = e.AddRule(rule)

	e.UpdatePrice("ES", 4400)
	e.UpdatePrice("ES", 4399.75)

	got := n.messages()
	if len(got) != 1 || got[0] != "ES broke below 4400.00: 4399.75" {
		t.Errorf("alerts = %v", got)
	}
}

func TestEngine_CooldownExpires(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	rule := priceAboveRule("es-4485", 4485)
	rule.Cooldown = 15 * time.Minute
	_ = e.AddRule(rule)

	e.UpdatePrice("ES", 4486)
	clk.Advance(14 * time.Minute)
	e.UpdatePrice("ES", 4487)
	if got := len(n.messages()); got != 1 {
		t.Fatalf("alerts inside cooldown = %d, want 1", got)
	}

	clk.Advance(time.Minute)
	e.UpdatePrice("ES", 4488)
	if got := len(n.messages()); got != 2 {
		t.Errorf("alerts after cooldown = %d, want 2", got)
	}

	rules := e.Rules()
	if len(rules) != 1 || !rules[0].LastTriggered.Equal(clk.Now()) {
		t.Errorf("LastTriggered = %v, want %v", rules[0].LastTriggered, clk.Now())
	}
}

func TestEngine_LevelAlert(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	err := e.AddLevel(Level{StructuralLevel: model.StructuralLevel{
		Symbol:    "ES",
		LevelType: "pivot",
		Price:     4450,
		Priority:  model.PriorityAllStar,
		Timeframe: "DAILY",
	}})
	if err != nil {
		t.Fatalf("AddLevel failed: %v", err)
	}

	e.UpdatePrice("ES", 4455)
	e.UpdatePrice("ES", 4451.5)
	clk.Advance(time.Minute)
	e.UpdatePrice("ES", 4450.25)

	n.mu.Lock()
	sent := append([]sentMessage(nil), n.sent...)
	n.mu.Unlock()

	if len(sent) != 1 {
		t.Fatalf("alerts = %+v, want one", sent)
	}
	want := "ES @ 4451.50 - PIVOT 4450.00 (above, 1.5pts away) [DAILY]"
	if sent[0].message != want {
		t.Errorf("message = %q, want %q", sent[0].message, want)
	}
	if sent[0].priority != model.AlertHigh {
		t.Errorf("priority = %v, want %v", sent[0].priority, model.AlertHigh)
	}
	a := e.RecentAlerts(1)[0]
	if !a.HasLevel() || a.LevelPrice != 4450 || a.Kind != model.AlertApproachingLevel {
		t.Errorf("alert = %+v", a)
	}
}

func TestEngine_SymbolDistanceOverride(t *testing.T) {
	n := &recordingNotifier{ok: true}
	cfg := DefaultConfig()
	cfg.Symbols = map[string]SymbolConfig{"NQ": {Distance: 5}}
	e := NewEngine(cfg, n, nil, nil)

	_ = e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "NQ", LevelType: "mgi_pdh", Price: 15000, Timeframe: "DAILY"}})
	_ = e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "mgi_pdh", Price: 4450, Timeframe: "DAILY"}})

	e.UpdatePrice("NQ", 15004)
	e.UpdatePrice("ES", 4454)

	got := n.messages()
	if len(got) != 1 || got[0] != "NQ @ 15004.00 - MGI_PDH 15000.00 (above, 4.0pts away) [DAILY]" {
		t.Errorf("alerts = %v", got)
	}
}

func TestEngine_FailedSendCountsSuppressed(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	n.ok = false
	_ = e.AddRule(priceAboveRule("es-4485", 4485))

	e.UpdatePrice("ES", 4486)
	clk.Advance(time.Second)
	e.UpdatePrice("ES", 4487)

	s := e.Stats()
	if s.AlertsSuppressed != 1 {
		t.Errorf("AlertsSuppressed = %d, want 1", s.AlertsSuppressed)
	}
	if s.AlertsSent != 0 || s.HistoryLen != 0 {
		t.Errorf("sent/history = %d/%d, want 0/0", s.AlertsSent, s.HistoryLen)
	}
}

func TestEngine_NotifierPanicSuppressed(t *testing.T) {
	notifier := NotifierFunc(func(context.Context, string, model.AlertPriority) bool {
		panic("gateway down")
	})
	e := NewEngine(DefaultConfig(), notifier, nil, nil)
	_ = e.AddRule(priceAboveRule("es-4485", 4485))

	e.UpdatePrice("ES", 4486)

	if got := e.Stats().AlertsSuppressed; got != 1 {
		t.Errorf("AlertsSuppressed = %d, want 1", got)
	}
}

func TestEngine_BadRuleDoesNotBlockOthers(t *testing.T) {
	e, n, _ := newTestEngine(t, nil)
	bad := priceAboveRule("a-bad", 4485)
	bad.Conditions = map[string]float64{"volume_above": 1000}
	_ = e.AddRule(bad)
	_ = e.AddRule(priceAboveRule("b-good", 4485))

	e.UpdatePrice("ES", 4486)
	e.UpdatePrice("ES", 4487)

	got := e.RecentAlerts(0)
	if len(got) != 1 || got[0].RuleID != "b-good" {
		t.Errorf("alerts = %+v, want one from b-good", got)
	}
	if len(n.messages()) != 1 {
		t.Errorf("notifier calls = %d, want 1", len(n.messages()))
	}
	if errs := e.Stats().RuleErrors; errs != 2 {
		t.Errorf("RuleErrors = %d, want 2", errs)
	}
}

func TestEngine_InactiveAndRemovedRules(t *testing.T) {
	e, n, _ := newTestEngine(t, nil)
	inactive := priceAboveRule("inactive", 4485)
	inactive.Active = false
	_ = e.AddRule(inactive)
	_ = e.AddRule(priceAboveRule("removed", 4485))

	if !e.RemoveRule("removed") {
		t.Error("RemoveRule returned false for existing rule")
	}
	if e.RemoveRule("missing") {
		t.Error("RemoveRule returned true for missing rule")
	}

	e.UpdatePrice("ES", 4490)
	if got := len(n.messages()); got != 0 {
		t.Errorf("alerts = %d, want 0", got)
	}
}

func TestEngine_AddRuleValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if err := e.AddRule(model.AlertRule{Symbol: "ES"}); err != ErrRuleID {
		t.Errorf("missing id error = %v, want %v", err, ErrRuleID)
	}
	if err := e.AddRule(model.AlertRule{ID: "x"}); err != ErrRuleSymbol {
		t.Errorf("missing symbol error = %v, want %v", err, ErrRuleSymbol)
	}
	if err := e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "pivot"}}); err != ErrLevelPrice {
		t.Errorf("zero price error = %v, want %v", err, ErrLevelPrice)
	}
}

func TestEngine_LevelSourceMerged(t *testing.T) {
	source := staticSource{"ES": {
		{Symbol: "ES", LevelType: "pivot", Price: 4450, Priority: model.PriorityAllStar, Timeframe: "DAILY"},
		{Symbol: "ES", LevelType: "mgi_ibh", Price: 4451, Priority: model.PriorityReference, Timeframe: "DAILY"},
	}}
	e, n, _ := newTestEngine(t, source)
	// Explicit level shadows the source copy.
	_ = e.AddLevel(Level{
		StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "pivot", Price: 4450, Priority: model.PriorityAllStar, Timeframe: "DAILY"},
		Disabled:        true,
	})

	e.UpdatePrice("ES", 4450.5)

	n.mu.Lock()
	sent := append([]sentMessage(nil), n.sent...)
	n.mu.Unlock()

	if len(sent) != 1 {
		t.Fatalf("alerts = %+v, want one", sent)
	}
	if sent[0].priority != model.AlertLow {
		t.Errorf("priority = %v, want %v", sent[0].priority, model.AlertLow)
	}
	if want := "ES @ 4450.50 - MGI_IBH 4451.00 (below, 0.5pts away) [DAILY]"; sent[0].message != want {
		t.Errorf("message = %q, want %q", sent[0].message, want)
	}
}

func TestEngine_InteractionRules(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	_ = e.AddRule(model.AlertRule{
		ID:         "pivot-break",
		Symbol:     "ES",
		Kind:       model.AlertLevelBreak,
		Priority:   model.AlertCritical,
		Conditions: map[string]float64{CondLevelPrice: 4450},
		Active:     true,
	})
	_ = e.AddRule(model.AlertRule{
		ID:         "close-approach",
		Symbol:     "ES",
		Kind:       model.AlertApproachingLevel,
		Priority:   model.AlertMedium,
		Conditions: map[string]float64{CondMaxDistance: 0.5},
		Active:     true,
	})

	base := model.LevelInteraction{Symbol: "ES", LevelType: "pivot", LevelPrice: 4450, Timestamp: clk.Now()}

	approach := base
	approach.Kind, approach.Price, approach.Distance = model.InteractionApproach, 4448.5, 1.5
	_ = e.OnInteraction(approach)
	if got := len(n.messages()); got != 0 {
		t.Fatalf("alerts after distant approach = %d, want 0", got)
	}

	touch := base
	touch.Kind, touch.Price, touch.Distance = model.InteractionTouch, 4449.75, 0.25
	_ = e.OnInteraction(touch)

	other := base
	other.LevelType, other.LevelPrice = "mgi_pdh", 4460
	other.Kind, other.Price, other.Distance = model.InteractionBreach, 4460.75, 0.75
	_ = e.OnInteraction(other)

	breach := base
	breach.Kind, breach.Price, breach.Distance = model.InteractionBreach, 4450.75, 0.75
	_ = e.OnInteraction(breach)

	want := []string{
		"ES @ 4449.75 - PIVOT 4450.00 (below, 0.3pts away) [DAILY]",
		"ES broke above PIVOT 4450.00: 4450.75",
	}
	if got := n.messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
	alerts := e.RecentAlerts(0)
	if len(alerts) != 2 || alerts[1].Kind != model.AlertLevelBreak || alerts[1].Priority != model.AlertCritical {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e, n, clk := newTestEngine(t, nil)
	_ = e.AddRule(priceAboveRule("es-4485", 4485))
	_ = e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "pivot", Price: 4480, Timeframe: "DAILY"}})
	_ = e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "mgi_pdh", Price: 4488, Timeframe: "DAILY"}})

	prices := []float64{4476, 4479, 4481.5, 4484, 4486, 4487.25, 4489, 4483}
	run := func() []string {
		for _, p := range prices {
			e.UpdatePrice("ES", p)
			clk.Advance(time.Second)
		}
		var out []string
		for _, a := range e.RecentAlerts(0) {
			out = append(out, a.Message)
		}
		return out
	}

	first := run()
	e.Reset()
	second := run()

	if len(first) != 3 {
		t.Errorf("first run alerts = %q, want 3", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ:\nfirst  %q\nsecond %q", first, second)
	}
	if got := len(n.messages()); got != 6 {
		t.Errorf("notifier calls = %d, want 6", got)
	}
}

func TestEngine_ListenerIsolation(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_ = e.AddRule(priceAboveRule("es-4485", 4485))

	e.OnAlert(ListenerFunc(func(model.Alert) error { panic("boom") }))
	var got []model.Alert
	e.OnAlert(ListenerFunc(func(a model.Alert) error {
		got = append(got, a)
		return nil
	}))

	e.UpdatePrice("ES", 4486)

	if len(got) != 1 {
		t.Fatalf("listener alerts = %d, want 1", len(got))
	}
	if e.Stats().ListenerErrors != 1 {
		t.Errorf("ListenerErrors = %d, want 1", e.Stats().ListenerErrors)
	}
}

func TestEngine_OnTickIgnoresQuotes(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	_ = e.OnTick(model.MarketTick{Symbol: "ES", Price: 4450, Kind: model.TickQuote})
	if _, ok := e.CurrentPrice("ES"); ok {
		t.Error("quote should not update price")
	}

	_ = e.OnTick(model.MarketTick{Symbol: "ES", Price: 4450, Kind: model.TickTrade})
	if p, ok := e.CurrentPrice("ES"); !ok || p != 4450 {
		t.Errorf("CurrentPrice = %v, %v, want 4450, true", p, ok)
	}
}

func TestEngine_CheckLoopRefires(t *testing.T) {
	n := &recordingNotifier{ok: true}
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	e := NewEngine(cfg, n, nil, nil)
	rule := priceAboveRule("es-4485", 4485)
	rule.Cooldown = 30 * time.Millisecond
	_ = e.AddRule(rule)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e.UpdatePrice("ES", 4486)

	deadline := time.Now().Add(2 * time.Second)
	for len(n.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := len(n.messages()); got < 2 {
		t.Errorf("alerts = %d, want at least 2 after cooldown", got)
	}
}

// blockingNotifier holds every send until its context ends or release is
// closed.
type blockingNotifier struct {
	release chan struct{}
	calls   atomic.Int64
}

func (n *blockingNotifier) Send(ctx context.Context, _ string, _ model.AlertPriority) bool {
	n.calls.Add(1)
	select {
	case <-n.release:
		return true
	case <-ctx.Done():
		return false
	}
}

func TestEngine_SlowNotifierDoesNotBlockTicks(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{})}
	e := NewEngine(DefaultConfig(), n, nil, nil)
	for _, p := range []float64{4449, 4450, 4451} {
		_ = e.AddLevel(Level{StructuralLevel: model.StructuralLevel{Symbol: "ES", LevelType: "pivot", Price: p, Timeframe: "DAILY"}})
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	_ = e.OnTick(model.MarketTick{Symbol: "ES", Price: 4450, Volume: 1, Kind: model.TickTrade})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("OnTick took %v, want under 100ms", elapsed)
	}

	close(n.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := e.Stats().AlertsSent; got != 3 {
		t.Errorf("AlertsSent = %v, want %v", got, 3)
	}
}

func TestEngine_StopDrainsQueue(t *testing.T) {
	n := &recordingNotifier{ok: true}
	cfg := DefaultConfig()
	cfg.CheckInterval = time.Hour
	e := NewEngine(cfg, n, nil, nil)
	_ = e.AddRule(priceAboveRule("es-4485", 4485))
	_ = e.AddRule(priceAboveRule("es-4480", 4480))

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e.UpdatePrice("ES", 4486)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(n.messages()); got != 2 {
		t.Errorf("delivered = %v, want %v", got, 2)
	}
	if got := e.Stats().Pending; got != 0 {
		t.Errorf("Pending = %v, want %v", got, 0)
	}
}

func TestEngine_FullQueueDrops(t *testing.T) {
	tests := []struct {
		name        string
		rules       int
		wantDropped int64
	}{
		{"fits in queue", 1, 0},
		{"overflow dropped", 5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &blockingNotifier{release: make(chan struct{})}
			cfg := DefaultConfig()
			cfg.CheckInterval = time.Hour
			cfg.QueueSize = 1
			e := NewEngine(cfg, n, nil, nil)
			for i := 0; i < tt.rules; i++ {
				_ = e.AddRule(priceAboveRule(fmt.Sprintf("rule-%d", i), 4480))
			}
			if err := e.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			// Park the dispatcher on the first alert so the queue stays full.
			e.emit(model.Alert{Symbol: "ES", Message: "first"})
			deadline := time.Now().Add(2 * time.Second)
			for n.calls.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}

			e.UpdatePrice("ES", 4486)

			s := e.Stats()
			if s.AlertsDropped != tt.wantDropped {
				t.Errorf("AlertsDropped = %v, want %v", s.AlertsDropped, tt.wantDropped)
			}
			if s.AlertsSuppressed != tt.wantDropped {
				t.Errorf("AlertsSuppressed = %v, want %v", s.AlertsSuppressed, tt.wantDropped)
			}

			close(n.release)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.Stop(ctx); err != nil {
				t.Fatalf("Stop failed: %v", err)
			}
		})
	}
}
