package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/levelwatch/internal/buffer"
	"github.com/rickgao/levelwatch/internal/model"
)

// Engine evaluates level alerts and rules against the latest price of each
// symbol and hands alerts to a Notifier.
//
// While started, alerts are queued and delivered by a single dispatch
// goroutine, so a slow notifier never holds up the caller of UpdatePrice,
// OnTick or OnInteraction. Before Start and after Stop, alerts are delivered
// on the calling goroutine.
type Engine struct {
	cfg      Config
	notifier Notifier
	source   LevelSource
	logger   *slog.Logger
	now      func() time.Time

	// mu guards prices, rules and levels.
	mu     sync.RWMutex
	prices map[string]float64
	rules  map[string]*model.AlertRule
	levels map[string][]Level

	// checkMu serializes checks and guards the cooldown state below.
	checkMu    sync.Mutex
	levelFired map[string]time.Time
	ruleFired  map[string]time.Time
	badRules   map[string]bool

	history *buffer.Ring[model.Alert]

	listenersMu sync.RWMutex
	listeners   []Listener

	// lifeMu guards the run context and the dispatch queue.
	lifeMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan model.Alert
	wg     sync.WaitGroup

	sent           atomic.Int64
	suppressed     atomic.Int64
	dropped        atomic.Int64
	ruleErrors     atomic.Int64
	listenerErrors atomic.Int64
	checks         atomic.Int64

	startTime time.Time
}

// NewEngine creates an Engine. source may be nil, in which case only levels
// added with AddLevel are watched.
func NewEngine(cfg Config, notifier Notifier, source LevelSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		notifier:   notifier,
		source:     source,
		logger:     logger.With("component", "alert_engine"),
		now:        time.Now,
		prices:     make(map[string]float64),
		rules:      make(map[string]*model.AlertRule),
		levels:     make(map[string][]Level),
		levelFired: make(map[string]time.Time),
		ruleFired:  make(map[string]time.Time),
		badRules:   make(map[string]bool),
		history:    buffer.NewRing[model.Alert](cfg.HistorySize),
		ctx:        context.Background(),
		startTime:  time.Now(),
	}
}

// Start begins the periodic check loop and the dispatch goroutine.
func (e *Engine) Start(ctx context.Context) error {
	queue := make(chan model.Alert, e.cfg.QueueSize)

	e.lifeMu.Lock()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.queue = queue
	e.lifeMu.Unlock()

	e.wg.Add(2)
	go e.run()
	go e.dispatchLoop(queue)

	e.logger.Info("alert engine started",
		"check_interval", e.cfg.CheckInterval,
		"queue_size", e.cfg.QueueSize,
	)
	return nil
}

// Stop ends the check loop, delivers the alerts still queued and waits for
// both goroutines.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	if e.queue != nil {
		close(e.queue)
		e.queue = nil
	}
	e.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("alert engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	ctx := e.runContext()
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.symbols() {
				e.check(symbol)
			}
		}
	}
}

func (e *Engine) runContext() context.Context {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.ctx
}

func (e *Engine) symbols() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.prices))
	for s := range e.prices {
		out = append(out, s)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// AddRule registers or replaces a rule. Condition keys are checked when the
// rule is evaluated.
func (e *Engine) AddRule(rule model.AlertRule) error {
	if rule.ID == "" {
		return ErrRuleID
	}
	if rule.Symbol == "" {
		return ErrRuleSymbol
	}
	conds := make(map[string]float64, len(rule.Conditions))
	for k, v := range rule.Conditions {
		conds[k] = v
	}
	rule.Conditions = conds

	e.mu.Lock()
	e.rules[rule.ID] = &rule
	e.mu.Unlock()

	e.logger.Info("added alert rule", "rule_id", rule.ID, "symbol", rule.Symbol, "kind", rule.Kind)
	return nil
}

// RemoveRule deletes a rule. It reports whether the rule existed.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	_, ok := e.rules[id]
	delete(e.rules, id)
	e.mu.Unlock()

	e.checkMu.Lock()
	delete(e.ruleFired, id)
	delete(e.badRules, id)
	e.checkMu.Unlock()
	return ok
}

// Rules returns copies of all rules, ordered by ID.
func (e *Engine) Rules() []model.AlertRule {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		c := copyRule(r)
		c.LastTriggered = e.ruleFired[r.ID]
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddLevel watches a level in addition to those from the LevelSource. A
// level with the same type and price replaces the earlier one.
func (e *Engine) AddLevel(level Level) error {
	if level.Price <= 0 {
		return ErrLevelPrice
	}
	if level.Symbol == "" {
		return ErrRuleSymbol
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lvls := e.levels[level.Symbol]
	for i, l := range lvls {
		if l.LevelType == level.LevelType && l.Price == level.Price {
			lvls[i] = level
			return nil
		}
	}
	e.levels[level.Symbol] = append(lvls, level)

	e.logger.Debug("added alert level",
		"symbol", level.Symbol,
		"level_type", level.LevelType,
		"price", level.Price,
		"priority", level.Priority,
	)
	return nil
}

// UpdatePrice records the latest price of a symbol and checks its alerts.
func (e *Engine) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	e.prices[symbol] = price
	e.mu.Unlock()

	e.check(symbol)
}

// OnTick feeds trade prices into the engine. Quotes are ignored.
func (e *Engine) OnTick(tick model.MarketTick) error {
	if tick.IsTrade() {
		e.UpdatePrice(tick.Symbol, tick.Price)
	}
	return nil
}

// CurrentPrice returns the latest price seen for a symbol.
func (e *Engine) CurrentPrice(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// check evaluates level alerts and price rules for one symbol.
func (e *Engine) check(symbol string) {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()
	e.checks.Add(1)

	e.mu.RLock()
	price, ok := e.prices[symbol]
	watched := append([]Level(nil), e.levels[symbol]...)
	rules := e.rulesFor(symbol, model.AlertCustom)
	e.mu.RUnlock()
	if !ok {
		return
	}

	now := e.now()
	for _, lvl := range e.mergeSource(symbol, watched) {
		e.checkLevel(symbol, price, lvl, now)
	}
	for _, r := range rules {
		e.checkRule(symbol, price, r, now)
	}
}

// mergeSource appends source levels not already watched explicitly.
func (e *Engine) mergeSource(symbol string, watched []Level) []Level {
	if e.source == nil {
		return watched
	}
	seen := make(map[string]bool, len(watched))
	for _, l := range watched {
		seen[levelKey(l.StructuralLevel)] = true
	}
	for _, sl := range e.source.Levels(symbol) {
		if seen[levelKey(sl)] {
			continue
		}
		watched = append(watched, Level{StructuralLevel: sl})
	}
	return watched
}

func (e *Engine) checkLevel(symbol string, price float64, lvl Level, now time.Time) {
	if lvl.Disabled || lvl.Price <= 0 {
		return
	}
	limit := lvl.AlertDistance
	if limit <= 0 {
		limit = e.cfg.distance(symbol)
	}
	distance := math.Abs(price - lvl.Price)
	if distance > limit {
		return
	}

	key := levelKey(lvl.StructuralLevel)
	cooldown := lvl.Cooldown
	if cooldown <= 0 {
		cooldown = e.cfg.cooldown(symbol)
	}
	if inCooldown(e.levelFired[key], cooldown, now) {
		return
	}
	e.levelFired[key] = now

	e.emit(model.Alert{
		ID:         uuid.New(),
		Symbol:     symbol,
		Kind:       model.AlertApproachingLevel,
		Priority:   LevelAlertPriority(lvl.Priority),
		Message:    formatLevelAlert(symbol, price, lvl.LevelType, lvl.Price, distance, lvl.Timeframe),
		Price:      price,
		LevelType:  lvl.LevelType,
		LevelPrice: lvl.Price,
		Timestamp:  now,
	})
}

func (e *Engine) checkRule(symbol string, price float64, r model.AlertRule, now time.Time) {
	if inCooldown(e.ruleFired[r.ID], e.ruleCooldown(r), now) {
		return
	}

	matched, message, err := evaluatePrice(r, symbol, price)
	if err != nil {
		e.ruleFailed(r, err)
		return
	}
	if !matched {
		return
	}
	e.ruleFired[r.ID] = now

	e.emit(model.Alert{
		ID:        uuid.New(),
		Symbol:    symbol,
		Kind:      r.Kind,
		Priority:  r.Priority,
		Message:   message,
		Price:     price,
		RuleID:    r.ID,
		Timestamp: now,
	})
}

// OnInteraction evaluates level_break rules against breaches and
// approaching_level rules against approaches and touches.
func (e *Engine) OnInteraction(in model.LevelInteraction) error {
	var kind model.AlertKind
	switch in.Kind {
	case model.InteractionBreach:
		kind = model.AlertLevelBreak
	case model.InteractionApproach, model.InteractionTouch:
		kind = model.AlertApproachingLevel
	default:
		return nil
	}

	e.checkMu.Lock()
	defer e.checkMu.Unlock()

	e.mu.RLock()
	rules := e.rulesFor(in.Symbol, kind)
	e.mu.RUnlock()
	if len(rules) == 0 {
		return nil
	}

	now := e.now()
	for _, r := range rules {
		if inCooldown(e.ruleFired[r.ID], e.ruleCooldown(r), now) {
			continue
		}
		matched, err := evaluateInteraction(r, in)
		if err != nil {
			e.ruleFailed(r, err)
			continue
		}
		if !matched {
			continue
		}
		e.ruleFired[r.ID] = now

		var message string
		if kind == model.AlertLevelBreak {
			message = formatBreak(in)
		} else {
			message = formatLevelAlert(in.Symbol, in.Price, in.LevelType, in.LevelPrice, in.Distance, timeframeOf(in.LevelType))
		}
		e.emit(model.Alert{
			ID:         uuid.New(),
			Symbol:     in.Symbol,
			Kind:       r.Kind,
			Priority:   r.Priority,
			Message:    message,
			Price:      in.Price,
			RuleID:     r.ID,
			LevelType:  in.LevelType,
			LevelPrice: in.LevelPrice,
			Timestamp:  now,
		})
	}
	return nil
}

// rulesFor returns active rules of one kind for a symbol, ordered by ID.
// Caller holds mu.
func (e *Engine) rulesFor(symbol string, kind model.AlertKind) []model.AlertRule {
	var out []model.AlertRule
	for _, r := range e.rules {
		if r.Active && r.Symbol == symbol && r.Kind == kind {
			out = append(out, copyRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) ruleCooldown(r model.AlertRule) time.Duration {
	if r.Cooldown > 0 {
		return r.Cooldown
	}
	return e.cfg.cooldown(r.Symbol)
}

// ruleFailed counts a rule evaluation error and warns once per rule.
func (e *Engine) ruleFailed(r model.AlertRule, err error) {
	e.ruleErrors.Add(1)
	if e.badRules[r.ID] {
		return
	}
	e.badRules[r.ID] = true
	e.logger.Warn("skipping alert rule", "rule_id", r.ID, "symbol", r.Symbol, "error", err)
}

// emit queues an alert for the dispatch goroutine, or delivers it directly
// when the engine is not running. A full queue drops the alert.
func (e *Engine) emit(a model.Alert) {
	e.lifeMu.Lock()
	if e.queue != nil {
		select {
		case e.queue <- a:
			e.lifeMu.Unlock()
		default:
			e.lifeMu.Unlock()
			e.dropped.Add(1)
			e.suppressed.Add(1)
			e.logger.Warn("alert queue full, dropping alert", "symbol", a.Symbol, "kind", a.Kind, "message", a.Message)
		}
		return
	}
	e.lifeMu.Unlock()

	e.dispatch(a)
}

func (e *Engine) dispatchLoop(queue <-chan model.Alert) {
	defer e.wg.Done()

	for a := range queue {
		e.dispatch(a)
	}
}

// dispatch delivers an alert. A failed delivery is counted as suppressed.
func (e *Engine) dispatch(a model.Alert) {
	if !e.deliver(a) {
		e.suppressed.Add(1)
		e.logger.Warn("alert not delivered", "symbol", a.Symbol, "kind", a.Kind, "message", a.Message)
		return
	}

	e.sent.Add(1)
	e.history.Push(a)
	e.logger.Info("alert sent",
		"alert_id", a.ID,
		"symbol", a.Symbol,
		"kind", a.Kind,
		"priority", a.Priority,
		"message", a.Message,
	)

	e.listenersMu.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.listenersMu.RUnlock()
	for _, l := range listeners {
		e.notifyListener(l, a)
	}
}

func (e *Engine) deliver(a model.Alert) (ok bool) {
	if e.notifier == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notifier panicked", "symbol", a.Symbol, "panic", r)
			ok = false
		}
	}()
	sendCtx, cancel := context.WithTimeout(context.Background(), e.cfg.SendTimeout)
	defer cancel()
	return e.notifier.Send(sendCtx, a.Message, a.Priority)
}

func (e *Engine) notifyListener(l Listener, a model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.listenerErrors.Add(1)
			e.logger.Error("alert listener panicked", "symbol", a.Symbol, "panic", r)
		}
	}()
	if err := l.OnAlert(a); err != nil {
		e.listenerErrors.Add(1)
		e.logger.Warn("alert listener failed", "symbol", a.Symbol, "error", err)
	}
}

// OnAlert registers a listener for delivered alerts.
func (e *Engine) OnAlert(l Listener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// RecentAlerts returns up to n of the newest delivered alerts, oldest first.
// n <= 0 returns all retained alerts.
func (e *Engine) RecentAlerts(n int) []model.Alert {
	return e.history.Last(n)
}

// Reset clears cooldowns and alert history.
func (e *Engine) Reset() {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()
	e.levelFired = make(map[string]time.Time)
	e.ruleFired = make(map[string]time.Time)
	e.badRules = make(map[string]bool)
	e.history.Reset()
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	bySymbol := make(map[string]int, len(e.levels))
	total := 0
	for symbol, lvls := range e.levels {
		bySymbol[symbol] = len(lvls)
		total += len(lvls)
	}
	active := 0
	for _, r := range e.rules {
		if r.Active {
			active++
		}
	}
	symbols := make([]string, 0, len(e.prices))
	for s := range e.prices {
		symbols = append(symbols, s)
	}
	e.mu.RUnlock()

	if e.source != nil {
		for _, s := range symbols {
			if _, ok := bySymbol[s]; ok {
				continue
			}
			n := len(e.source.Levels(s))
			bySymbol[s] = n
			total += n
		}
	}

	cutoff := e.now().Add(-time.Hour)
	recent := len(e.history.Filter(0, func(a model.Alert) bool {
		return a.Timestamp.After(cutoff)
	}))

	return Stats{
		AlertsSent:       e.sent.Load(),
		AlertsSuppressed: e.suppressed.Load(),
		AlertsDropped:    e.dropped.Load(),
		Pending:          e.pending(),
		RuleErrors:       e.ruleErrors.Load(),
		ListenerErrors:   e.listenerErrors.Load(),
		Checks:           e.checks.Load(),
		LevelsMonitored:  total,
		LevelsBySymbol:   bySymbol,
		ActiveRules:      active,
		RecentAlerts:     recent,
		HistoryLen:       e.history.Len(),
		StartTime:        e.startTime,
		Uptime:           time.Since(e.startTime),
	}
}

func (e *Engine) pending() int {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.queue == nil {
		return 0
	}
	return len(e.queue)
}

func inCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	return !last.IsZero() && now.Sub(last) < cooldown
}

func levelKey(l model.StructuralLevel) string {
	return fmt.Sprintf("%s|%s|%g", l.Symbol, l.LevelType, l.Price)
}

func copyRule(r *model.AlertRule) model.AlertRule {
	c := *r
	c.Conditions = make(map[string]float64, len(r.Conditions))
	for k, v := range r.Conditions {
		c.Conditions[k] = v
	}
	return c
}
