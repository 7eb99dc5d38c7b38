// streamtest connects to the market data feed and prints parsed ticks to
// the console.
// Usage: go run ./cmd/streamtest --config configs/levelwatch.yaml
//
// Feed credentials come from the config file, which may reference
// environment variables (a .env file in the working directory is loaded):
//
//	FEED_USER     - feed login user
//	FEED_PASSWORD - feed login password
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/levelwatch/internal/config"
	"github.com/rickgao/levelwatch/internal/connection"
	"github.com/rickgao/levelwatch/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/levelwatch.example.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated symbols overriding the config (exchange CME)")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	quotes := flag.Bool("quotes", false, "print quotes as well as trades")
	flag.Parse()

	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	clientCfg := cfg.Feed.ClientConfig()
	if *symbols != "" {
		clientCfg.Symbols = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				clientCfg.Symbols = append(clientCfg.Symbols, connection.Subscription{Symbol: s, Exchange: config.DefaultExchange})
			}
		}
	}
	if len(clientCfg.Symbols) == 0 {
		logger.Error("no symbols to subscribe")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := connection.NewClient(clientCfg, logger)

	client.OnState(connection.StateListenerFunc(func(s connection.State) {
		fmt.Printf("[STATE] %s\n", s)
		if s == connection.StateFailed {
			cancel()
		}
	}))
	client.OnTick("", connection.TickListenerFunc(func(tick model.MarketTick) error {
		printTick(tick, *verbose, *quotes)
		return nil
	}))

	logger.Info("connecting", "uri", clientCfg.URI, "symbols", len(clientCfg.Symbols))
	if err := client.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := client.Stats()
				logger.Info("stats",
					"state", stats.State,
					"trades", stats.TradesReceived,
					"quotes", stats.QuotesReceived,
					"reconnects", stats.ReconnectCount,
					"heartbeats", stats.HeartbeatsSent,
					"frames", stats.Router.MessagesReceived,
					"parse_errors", stats.Router.ParseErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	client.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}

func printTick(tick model.MarketTick, verbose, quotes bool) {
	if tick.Kind != model.TickTrade && !quotes {
		return
	}
	if verbose {
		data, _ := json.MarshalIndent(tick, "", "  ")
		fmt.Printf("[TICK] %s\n", data)
		return
	}
	if tick.Kind == model.TickTrade {
		fmt.Printf("[TRADE] %s price=%.2f size=%d side=%s\n",
			tick.Symbol, tick.Price, tick.Volume, tick.Side)
		return
	}
	fmt.Printf("[QUOTE] %s bid=%.2f ask=%.2f\n", tick.Symbol, tick.Bid, tick.Ask)
}
