package levels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/levelwatch/internal/buffer"
	"github.com/rickgao/levelwatch/internal/connection"
	"github.com/rickgao/levelwatch/internal/model"
)

// Errors
var (
	ErrNoStore = errors.New("no level store configured")
)

// Store supplies the level map for a symbol and trading date.
type Store interface {
	GetLevels(ctx context.Context, symbol string, date time.Time) (map[string]float64, error)
}

// InteractionListener receives every interaction the Monitor emits.
type InteractionListener interface {
	OnInteraction(interaction model.LevelInteraction) error
}

// InteractionListenerFunc adapts a function to InteractionListener.
type InteractionListenerFunc func(interaction model.LevelInteraction) error

// OnInteraction calls f(interaction).
func (f InteractionListenerFunc) OnInteraction(interaction model.LevelInteraction) error {
	return f(interaction)
}

// Config holds Monitor configuration.
type Config struct {
	Thresholds     Thresholds
	Symbols        []string
	ReloadInterval time.Duration
	HistorySize    int
	ReloadWorkers  int
	Location       *time.Location // Trading date timezone
}

// DefaultConfig returns the default Monitor configuration.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		Thresholds:     DefaultThresholds(),
		ReloadInterval: 5 * time.Minute,
		HistorySize:    1000,
		ReloadWorkers:  4,
		Location:       loc,
	}
}

// MonitorStats contains Monitor statistics.
type MonitorStats struct {
	TradesProcessed int64
	Approaches      int64
	Touches         int64
	Breaches        int64
	HistoryLen      int
	HistoryEvicted  int64
	Reloads         int64
	ReloadErrors    int64
	ListenerErrors  int64
	LevelsLoaded    map[string]int
	LastReload      time.Time
	StartTime       time.Time
	Uptime          time.Duration
}

// snapshot maps symbol to its levels sorted by price. Never mutated after publish.
type snapshot map[string][]model.StructuralLevel

// Monitor classifies trades against the current level snapshot.
type Monitor struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time

	levels atomic.Pointer[snapshot]

	// priceMu guards lastPrice; ticks arrive on the protocol consumer goroutine.
	priceMu   sync.Mutex
	lastPrice map[string]float64

	history *buffer.Ring[model.LevelInteraction]

	listenersMu sync.RWMutex
	listeners   []InteractionListener

	reloadCh chan struct{}
	reloadMu sync.Mutex // one reload at a time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	trades         atomic.Int64
	approaches     atomic.Int64
	touches        atomic.Int64
	breaches       atomic.Int64
	reloads        atomic.Int64
	reloadErrors   atomic.Int64
	listenerErrors atomic.Int64
	lastReload     atomic.Int64

	startTime time.Time
}

// NewMonitor creates a Monitor. store may be nil when levels are set directly.
func NewMonitor(cfg Config, store Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = d.ReloadInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = d.HistorySize
	}
	if cfg.ReloadWorkers <= 0 {
		cfg.ReloadWorkers = d.ReloadWorkers
	}
	if cfg.Location == nil {
		cfg.Location = d.Location
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = d.Thresholds
	}

	m := &Monitor{
		cfg:       cfg,
		store:     store,
		logger:    logger.With("component", "level_monitor"),
		now:       time.Now,
		lastPrice: make(map[string]float64),
		history:   buffer.NewRing[model.LevelInteraction](cfg.HistorySize),
		reloadCh:  make(chan struct{}, 1),
		startTime: time.Now(),
	}
	empty := snapshot{}
	m.levels.Store(&empty)
	return m
}

// Start loads levels once and begins the periodic reload loop.
// A failed initial load is logged, not fatal.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("starting level monitor",
		"symbols", m.cfg.Symbols,
		"reload_interval", m.cfg.ReloadInterval,
	)

	m.ctx, m.cancel = context.WithCancel(context.Background())

	if err := m.Reload(ctx); err != nil {
		m.logger.Warn("initial level load incomplete", "error", err)
	}

	m.wg.Add(1)
	go m.reloadLoop()

	return nil
}

// Stop ends the reload loop and waits for it.
func (m *Monitor) Stop(ctx context.Context) error {
	m.logger.Info("stopping level monitor")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout")
		return ctx.Err()
	}

	m.logger.Info("level monitor stopped")
	return nil
}

func (m *Monitor) reloadLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-m.reloadCh:
		}
		if err := m.Reload(m.ctx); err != nil && m.ctx.Err() == nil {
			m.logger.Warn("level reload incomplete", "error", err)
		}
	}
}

// TriggerReload asks the reload loop to refresh levels now. Never blocks.
func (m *Monitor) TriggerReload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

// OnState reloads levels whenever the client (re)authenticates.
func (m *Monitor) OnState(state connection.State) {
	if state == connection.StateAuthenticated {
		m.logger.Info("client authenticated, reloading levels")
		m.TriggerReload()
	}
}

// Reload fetches levels for every configured symbol and publishes a new
// snapshot. Symbols whose fetch fails keep their previous levels.
func (m *Monitor) Reload(ctx context.Context) error {
	if m.store == nil {
		return ErrNoStore
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	date := m.TradingDate()
	start := time.Now()

	var (
		mu      sync.Mutex
		fetched = make(map[string][]model.StructuralLevel, len(m.cfg.Symbols))
		errs    []error
	)

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.ReloadWorkers)
	for _, symbol := range m.cfg.Symbols {
		g.Go(func() error {
			raw, err := m.store.GetLevels(ctx, symbol, date)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("load levels for %s: %w", symbol, err))
				return nil
			}
			fetched[symbol] = buildLevels(symbol, raw)
			return nil
		})
	}
	_ = g.Wait()

	next := make(snapshot, len(m.cfg.Symbols))
	for symbol, lvls := range *m.levels.Load() {
		next[symbol] = lvls
	}
	for symbol, lvls := range fetched {
		next[symbol] = lvls
		allStar := 0
		for _, l := range lvls {
			if l.Priority == model.PriorityAllStar {
				allStar++
			}
		}
		m.logger.Info("loaded levels", "symbol", symbol, "date", date.Format(time.DateOnly), "count", len(lvls), "all_star", allStar)
	}
	m.levels.Store(&next)

	m.reloads.Add(1)
	m.lastReload.Store(m.now().UnixNano())
	m.logger.Debug("level reload complete", "symbols", len(fetched), "duration", time.Since(start))

	if len(errs) > 0 {
		m.reloadErrors.Add(int64(len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// SetLevels replaces the levels for one symbol.
func (m *Monitor) SetLevels(symbol string, raw map[string]float64) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	next := make(snapshot)
	for s, lvls := range *m.levels.Load() {
		next[s] = lvls
	}
	next[symbol] = buildLevels(symbol, raw)
	m.levels.Store(&next)
}

// TradingDate is today in the configured timezone.
func (m *Monitor) TradingDate() time.Time {
	now := m.now().In(m.cfg.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.cfg.Location)
}

// OnTick classifies a trade. Quotes are ignored. Must be called from a single
// goroutine per symbol.
func (m *Monitor) OnTick(tick model.MarketTick) error {
	if !tick.IsTrade() {
		return nil
	}
	m.trades.Add(1)

	lvls := (*m.levels.Load())[tick.Symbol]

	m.priceMu.Lock()
	prev, hasPrev := m.lastPrice[tick.Symbol]
	m.lastPrice[tick.Symbol] = tick.Price
	m.priceMu.Unlock()

	if len(lvls) == 0 {
		return nil
	}

	for _, in := range Classify(tick, prev, hasPrev, lvls, m.cfg.Thresholds) {
		m.record(in)
	}
	return nil
}

func (m *Monitor) record(in model.LevelInteraction) {
	switch in.Kind {
	case model.InteractionApproach:
		m.approaches.Add(1)
	case model.InteractionTouch:
		m.touches.Add(1)
	case model.InteractionBreach:
		m.breaches.Add(1)
	}
	m.history.Push(in)

	if in.Priority == model.PriorityAllStar || in.Kind == model.InteractionBreach {
		m.logger.Info("level interaction",
			"kind", in.Kind,
			"symbol", in.Symbol,
			"price", in.Price,
			"level_type", in.LevelType,
			"level_price", in.LevelPrice,
			"priority", in.Priority,
			"distance", in.Distance,
			"side", in.Side,
		)
	}

	m.listenersMu.RLock()
	listeners := append([]InteractionListener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	for _, l := range listeners {
		m.notify(l, in)
	}
}

func (m *Monitor) notify(l InteractionListener, in model.LevelInteraction) {
	defer func() {
		if r := recover(); r != nil {
			m.listenerErrors.Add(1)
			m.logger.Error("interaction listener panicked", "symbol", in.Symbol, "panic", r)
		}
	}()
	if err := l.OnInteraction(in); err != nil {
		m.listenerErrors.Add(1)
		m.logger.Warn("interaction listener failed", "symbol", in.Symbol, "error", err)
	}
}

// OnInteraction registers an interaction listener.
func (m *Monitor) OnInteraction(l InteractionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Levels returns the current levels for a symbol, sorted by price.
func (m *Monitor) Levels(symbol string) []model.StructuralLevel {
	lvls := (*m.levels.Load())[symbol]
	out := make([]model.StructuralLevel, len(lvls))
	copy(out, lvls)
	return out
}

// RecentInteractions returns up to n of the newest interactions, oldest
// first. An empty symbol matches all symbols.
func (m *Monitor) RecentInteractions(symbol string, n int) []model.LevelInteraction {
	if symbol == "" {
		return m.history.Last(n)
	}
	return m.history.Filter(n, func(in model.LevelInteraction) bool {
		return in.Symbol == symbol
	})
}

// Reset clears interaction history and previous prices.
func (m *Monitor) Reset() {
	m.priceMu.Lock()
	m.lastPrice = make(map[string]float64)
	m.priceMu.Unlock()
	m.history.Reset()
}

// Stats returns monitor statistics.
func (m *Monitor) Stats() MonitorStats {
	loaded := make(map[string]int)
	for symbol, lvls := range *m.levels.Load() {
		loaded[symbol] = len(lvls)
	}
	var lastReload time.Time
	if n := m.lastReload.Load(); n > 0 {
		lastReload = time.Unix(0, n)
	}
	return MonitorStats{
		TradesProcessed: m.trades.Load(),
		Approaches:      m.approaches.Load(),
		Touches:         m.touches.Load(),
		Breaches:        m.breaches.Load(),
		HistoryLen:      m.history.Len(),
		HistoryEvicted:  m.history.Evicted(),
		Reloads:         m.reloads.Load(),
		ReloadErrors:    m.reloadErrors.Load(),
		ListenerErrors:  m.listenerErrors.Load(),
		LevelsLoaded:    loaded,
		LastReload:      lastReload,
		StartTime:       m.startTime,
		Uptime:          time.Since(m.startTime),
	}
}
