package reporter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StatsFunc returns a point-in-time statistics value for one component.
type StatsFunc func() any

// Config holds reporter configuration.
type Config struct {
	Interval time.Duration // Log interval (default: 5m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

type source struct {
	name  string
	stats StatsFunc
}

// Reporter logs registered component statistics on an interval.
type Reporter struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	sources []source
	reports int64
	last    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Reporter.
func New(cfg Config, logger *slog.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		cfg:    cfg,
		logger: logger.With("component", "reporter"),
	}
}

// Register adds a component. Registering a name again replaces it.
func (r *Reporter) Register(name string, fn StatsFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sources {
		if r.sources[i].name == name {
			r.sources[i].stats = fn
			return
		}
	}
	r.sources = append(r.sources, source{name: name, stats: fn})
	sort.Slice(r.sources, func(i, j int) bool { return r.sources[i].name < r.sources[j].name })
}

// Start begins the reporting loop, which runs until Stop.
func (r *Reporter) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reporter started", "interval", r.cfg.Interval)
	return nil
}

// Stop shuts down the reporter after logging one final report.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.Report()
		r.logger.Info("reporter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs one line per registered component.
func (r *Reporter) Report() {
	snap := r.collect()
	for _, s := range snap {
		r.logger.Info("stats", "source", s.name, "stats", s.value)
	}

	r.mu.Lock()
	r.reports++
	r.last = time.Now()
	r.mu.Unlock()
}

// Snapshot returns the current statistics of every component by name.
func (r *Reporter) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, s := range r.collect() {
		out[s.name] = s.value
	}
	return out
}

// Reports returns how many reports were logged and when the last one was.
func (r *Reporter) Reports() (int64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports, r.last
}

type sample struct {
	name  string
	value any
}

func (r *Reporter) collect() []sample {
	r.mu.Lock()
	sources := append([]source(nil), r.sources...)
	r.mu.Unlock()

	out := make([]sample, 0, len(sources))
	for _, s := range sources {
		out = append(out, sample{name: s.name, value: r.safeStats(s)})
	}
	return out
}

// safeStats calls a component's StatsFunc, isolating a panic.
func (r *Reporter) safeStats(s source) (v any) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stats source panicked", "source", s.name, "panic", p)
			v = map[string]string{"error": "unavailable"}
		}
	}()
	return s.stats()
}
