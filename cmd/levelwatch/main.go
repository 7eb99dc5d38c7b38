package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/levelwatch/internal/alert"
	"github.com/rickgao/levelwatch/internal/config"
	"github.com/rickgao/levelwatch/internal/connection"
	"github.com/rickgao/levelwatch/internal/database"
	"github.com/rickgao/levelwatch/internal/levels"
	"github.com/rickgao/levelwatch/internal/logging"
	"github.com/rickgao/levelwatch/internal/notify"
	"github.com/rickgao/levelwatch/internal/reporter"
	"github.com/rickgao/levelwatch/internal/version"
	"github.com/rickgao/levelwatch/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/levelwatch.example.yaml", "path to config file")
	importPath := flag.String("import", "", "import levels from a MotiveWave CSV export and exit")
	importSymbol := flag.String("symbol", "ES", "symbol for -import")
	importDate := flag.String("date", "", "trading date for -import (YYYY-MM-DD, default today)")
	flag.Parse()

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting levelwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if *importPath != "" {
		err = runImport(ctx, cfg, *importPath, *importSymbol, *importDate, os.Stdout, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("levelwatch failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// lifecycle is a component started after wiring and stopped at shutdown.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type component struct {
	name string
	lifecycle
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Database
	var (
		pool       *pgxpool.Pool
		levelStore *database.LevelStore
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		levelStore = database.NewLevelStore(pool, logger)
		logger.Info("database connected")
	}

	var store levels.Store
	switch cfg.Levels.Source {
	case "static":
		store = levels.NewStaticStore(cfg.Levels.Static)
	default:
		store = levelStore
	}

	monCfg, err := cfg.MonitorConfig()
	if err != nil {
		return err
	}
	monitor := levels.NewMonitor(monCfg, store, logger)

	client := connection.NewClient(cfg.Feed.ClientConfig(), logger)
	client.OnTick("", monitor)
	client.OnState(monitor)

	// Notifiers
	notifier, sms, closeNotify, err := buildNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer closeNotify()

	// Alert engine
	engine := alert.NewEngine(cfg.Alerts.EngineConfig(), notifier, monitor, logger)
	rules, err := cfg.Alerts.AlertRules()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := engine.AddRule(rule); err != nil {
			return fmt.Errorf("add rule %s: %w", rule.ID, err)
		}
	}
	client.OnTick("", engine)
	monitor.OnInteraction(engine)

	// Stats
	rep := reporter.New(reporter.Config{Interval: cfg.Stats.Interval}, logger)
	rep.Register("feed", func() any { return client.Stats() })
	rep.Register("levels", func() any { return monitor.Stats() })
	rep.Register("alerts", func() any { return engine.Stats() })
	if sms != nil {
		rep.Register("sms", func() any { return map[string]int64{"sent": sms.SentCount()} })
	}

	components := []component{
		{"level monitor", monitor},
		{"alert engine", engine},
	}

	// Archive writers
	if pool != nil {
		wcfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}
		interactions := writer.NewInteractionWriter(wcfg, pool, levelStore, monitor.TradingDate, logger)
		alerts := writer.NewAlertWriter(wcfg, pool, logger)
		monitor.OnInteraction(interactions)
		engine.OnAlert(alerts)

		rep.Register("interaction_writer", func() any { return interactions.Stats() })
		rep.Register("alert_writer", func() any { return alerts.Stats() })
		components = append(components,
			component{"interaction writer", interactions},
			component{"alert writer", alerts},
		)

		if cfg.Levels.Watch.Dir != "" {
			watchCfg, err := cfg.WatcherConfig()
			if err != nil {
				return err
			}
			watcher := levels.NewFolderWatcher(watchCfg, levelStore, func(string) { monitor.TriggerReload() }, logger)
			rep.Register("level_watcher", func() any { return watcher.Stats() })
			components = append(components, component{"level watcher", watcher})
		}
	}
	components = append(components, component{"reporter", rep})

	// The HTTP server comes up before the feed so health is observable
	// during login.
	srv := &server{
		feed:    client,
		levels:  monitor,
		alerts:  engine,
		stats:   rep,
		symbols: cfg.Feed.SymbolNames(),
		logger:  logger.With("component", "http"),
	}
	if pool != nil {
		srv.db = pool
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting http server", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := startComponents(ctx, components); err != nil {
		shutdown(httpServer, nil, components, logger)
		return err
	}

	logger.Info("connecting to feed", "uri", cfg.Feed.URI, "symbols", cfg.Feed.SymbolNames())
	if err := client.Start(ctx); err != nil {
		shutdown(httpServer, client, components, logger)
		return fmt.Errorf("start feed: %w", err)
	}

	logger.Info("levelwatch running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.HTTP.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")
	shutdown(httpServer, client, components, logger)
	logger.Info("levelwatch stopped")
	return nil
}

// startComponents starts all components concurrently. Each receives ctx
// itself rather than a group context, which is cancelled as soon as Wait
// returns and would end any loop derived from it.
func startComponents(ctx context.Context, components []component) error {
	var g errgroup.Group
	for _, c := range components {
		g.Go(func() error {
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// shutdown stops the feed first so no new ticks arrive, then the other
// components in reverse start order.
func shutdown(httpServer *http.Server, client *connection.Client, components []component, logger *slog.Logger) {
	stop := func(name string, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("stop failed", "component", name, "error", err)
		}
	}

	stop("http server", httpServer.Shutdown)
	if client != nil {
		stop("feed", client.Stop)
	}
	for i := len(components) - 1; i >= 0; i-- {
		stop(components[i].name, components[i].Stop)
	}
}

// buildNotifier assembles the configured notifiers. The returned cleanup
// releases the Redis client and is never nil.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (notify.Multi, *notify.SMSNotifier, func(), error) {
	var (
		out     notify.Multi
		sms     *notify.SMSNotifier
		cleanup = func() {}
	)

	if cfg.Log {
		out = append(out, notify.NewLogNotifier(logger))
	}

	if cfg.SMS.Enabled {
		opts := []notify.SMSOption{notify.WithLogger(logger)}
		if cfg.SMS.BaseURL != "" {
			opts = append(opts, notify.WithBaseURL(cfg.SMS.BaseURL))
		}
		if cfg.SMS.RateEvery > 0 && cfg.SMS.RateBurst > 0 {
			opts = append(opts, notify.WithRateLimit(cfg.SMS.RateEvery, cfg.SMS.RateBurst))
		}
		if cfg.SMS.MaxRetries > 0 {
			opts = append(opts, notify.WithRetries(cfg.SMS.MaxRetries, time.Second))
		}
		n, err := notify.NewSMSNotifier(notify.SMSConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			To:         cfg.SMS.To,
		}, opts...)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("sms notifier: %w", err)
		}
		sms = n
		out = append(out, n)
	}

	if cfg.Redis.Enabled {
		rc := notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}
		client, err := notify.NewRedisClient(ctx, rc)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("redis notifier: %w", err)
		}
		cleanup = func() { client.Close() }
		out = append(out, notify.NewRedisNotifier(client, rc.Channel, logger))
	}

	if len(out) == 0 {
		logger.Warn("no notifiers enabled, alerts are only logged")
		out = append(out, notify.NewLogNotifier(logger))
	}
	return out, sms, cleanup, nil
}

// runImport parses a CSV export and stores the levels, or prints them when
// no database is configured.
func runImport(ctx context.Context, cfg *config.Config, path, symbol, date string, out io.Writer, logger *slog.Logger) error {
	monCfg, err := cfg.MonitorConfig()
	if err != nil {
		return err
	}
	loc := monCfg.Location

	day := time.Now().In(loc)
	if date != "" {
		day, err = time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return fmt.Errorf("parse -date: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	result, err := levels.ParseMotiveWaveCSV(f, symbol, day, loc)
	if err != nil {
		return err
	}
	for col, reason := range result.Skipped {
		logger.Warn("skipped column", "column", col, "reason", reason)
	}
	logger.Info("parsed levels",
		"symbol", result.Symbol,
		"trading_date", result.TradingDate.Format(time.DateOnly),
		"row_time", result.RowTime.Format(time.TimeOnly),
		"levels", len(result.Levels),
	)

	if !cfg.Database.Enabled {
		for _, l := range result.Levels {
			fmt.Fprintf(out, "%-24s %10.2f  %s\n", l.LevelType, l.Price, l.Priority)
		}
		return nil
	}

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	store := database.NewLevelStore(pool, logger)
	n, err := store.UpsertLevels(ctx, result.TradingDate, result.Levels, "csv_import")
	if err != nil {
		return err
	}

	v, err := store.ValidateHierarchy(ctx, result.Symbol, result.TradingDate)
	if err != nil {
		return err
	}
	for _, e := range v.Errors {
		logger.Error("level hierarchy", "error", e)
	}
	for _, w := range v.Warnings {
		logger.Warn("level hierarchy", "warning", w)
	}
	fmt.Fprintf(out, "imported %d levels for %s on %s (valid: %v)\n",
		n, result.Symbol, result.TradingDate.Format(time.DateOnly), v.Valid)
	return nil
}
