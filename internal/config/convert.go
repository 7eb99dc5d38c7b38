package config

import (
	"fmt"
	"time"

	"github.com/rickgao/levelwatch/internal/alert"
	"github.com/rickgao/levelwatch/internal/connection"
	"github.com/rickgao/levelwatch/internal/levels"
	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
)

// SymbolNames returns the configured symbols in order.
func (f FeedConfig) SymbolNames() []string {
	out := make([]string, len(f.Symbols))
	for i, s := range f.Symbols {
		out[i] = s.Symbol
	}
	return out
}

// ClientConfig converts the feed section into a protocol client config.
func (f FeedConfig) ClientConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URI = f.URI
	cfg.User = f.User
	cfg.Password = f.Password
	cfg.AppName = f.AppName
	cfg.AppVersion = f.AppVersion
	cfg.SystemName = f.SystemName
	if it, ok := protocol.ParseInfraType(f.InfraType); ok {
		cfg.InfraType = it
	}
	cfg.CACertPath = f.CACertPath
	for _, s := range f.Symbols {
		cfg.Symbols = append(cfg.Symbols, connection.Subscription{Symbol: s.Symbol, Exchange: s.Exchange})
	}
	cfg.LoginTimeout = f.LoginTimeout
	cfg.HeartbeatInterval = f.HeartbeatInterval
	cfg.ReconnectBaseDelay = f.ReconnectBaseDelay
	cfg.MaxReconnectAttempts = f.MaxReconnectAttempts
	cfg.SubscribeSpacing = f.SubscribeSpacing
	cfg.PingInterval = f.PingInterval
	cfg.PingTimeout = f.PingTimeout
	cfg.BufferSize = f.BufferSize
	return cfg
}

// MonitorConfig converts the levels section into a monitor config.
func (c *Config) MonitorConfig() (levels.Config, error) {
	loc, err := time.LoadLocation(c.Levels.Timezone)
	if err != nil {
		return levels.Config{}, fmt.Errorf("load timezone: %w", err)
	}
	return levels.Config{
		Thresholds: levels.Thresholds{
			Touch:     c.Levels.TouchThreshold,
			Proximity: c.Levels.ProximityThreshold,
			Breach:    c.Levels.BreachThreshold,
		},
		Symbols:        c.Feed.SymbolNames(),
		ReloadInterval: c.Levels.ReloadInterval,
		HistorySize:    c.Levels.HistorySize,
		ReloadWorkers:  c.Levels.ReloadWorkers,
		Location:       loc,
	}, nil
}

// WatcherConfig converts the levels.watch section into a folder watcher
// config.
func (c *Config) WatcherConfig() (levels.WatcherConfig, error) {
	loc, err := time.LoadLocation(c.Levels.Timezone)
	if err != nil {
		return levels.WatcherConfig{}, fmt.Errorf("load timezone: %w", err)
	}
	return levels.WatcherConfig{
		Dir:      c.Levels.Watch.Dir,
		Interval: c.Levels.Watch.Interval,
		MaxAge:   c.Levels.Watch.MaxAge,
		Symbols:  c.Levels.Watch.Symbols,
		Location: loc,
	}, nil
}

// EngineConfig converts the alerts section into an alert engine config.
func (a AlertsConfig) EngineConfig() alert.Config {
	cfg := alert.Config{
		CheckInterval:   a.CheckInterval,
		HistorySize:     a.HistorySize,
		DefaultDistance: a.DefaultDistance,
		DefaultCooldown: a.DefaultCooldown,
		SendTimeout:     a.SendTimeout,
		QueueSize:       a.QueueSize,
	}
	if len(a.Symbols) > 0 {
		cfg.Symbols = make(map[string]alert.SymbolConfig, len(a.Symbols))
		for symbol, s := range a.Symbols {
			cfg.Symbols[symbol] = alert.SymbolConfig{Distance: s.Distance, Cooldown: s.Cooldown}
		}
	}
	return cfg
}

// AlertRule converts and validates one configured rule.
func (r RuleConfig) AlertRule() (model.AlertRule, error) {
	kind, err := model.ParseAlertKind(r.Kind)
	if err != nil {
		return model.AlertRule{}, err
	}
	priority, err := model.ParseAlertPriority(r.Priority)
	if err != nil {
		return model.AlertRule{}, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	rule := model.AlertRule{
		ID:         r.ID,
		Symbol:     r.Symbol,
		Kind:       kind,
		Priority:   priority,
		Conditions: r.Conditions,
		Cooldown:   r.Cooldown,
		Active:     active,
	}
	if err := alert.ValidateRule(rule); err != nil {
		return model.AlertRule{}, err
	}
	return rule, nil
}

// AlertRules converts every configured rule.
func (a AlertsConfig) AlertRules() ([]model.AlertRule, error) {
	out := make([]model.AlertRule, 0, len(a.Rules))
	for i, r := range a.Rules {
		rule, err := r.AlertRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}
