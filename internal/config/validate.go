package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/levelwatch/internal/protocol"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Levels.validate(); err != nil {
		return err
	}
	if c.Levels.Source == "database" && !c.Database.Enabled {
		return errors.New("levels.source database requires database.enabled")
	}
	if c.Levels.Watch.Dir != "" && !c.Database.Enabled {
		return errors.New("levels.watch.dir requires database.enabled")
	}

	if c.Alerts.CheckInterval <= 0 {
		return errors.New("alerts.check_interval must be > 0")
	}
	if c.Alerts.HistorySize < 1 {
		return errors.New("alerts.history_size must be >= 1")
	}
	ids := make(map[string]bool, len(c.Alerts.Rules))
	for i, r := range c.Alerts.Rules {
		if _, err := r.AlertRule(); err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		if ids[r.ID] {
			return fmt.Errorf("alerts.rules[%d]: duplicate id %q", i, r.ID)
		}
		ids[r.ID] = true
	}

	if err := c.Notify.validate(); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (f *FeedConfig) validate() error {
	if f.URI == "" {
		return errors.New("feed.uri is required")
	}
	if f.User == "" {
		return errors.New("feed.user is required")
	}
	if f.Password == "" {
		return errors.New("feed.password is required")
	}
	if _, ok := protocol.ParseInfraType(f.InfraType); !ok {
		return fmt.Errorf("feed.infra_type %q is not a known plant", f.InfraType)
	}
	if len(f.Symbols) == 0 {
		return errors.New("feed.symbols must not be empty")
	}
	for i, s := range f.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("feed.symbols[%d].symbol is required", i)
		}
		if s.Exchange == "" {
			return fmt.Errorf("feed.symbols[%d].exchange is required", i)
		}
	}
	if f.MaxReconnectAttempts < 1 {
		return errors.New("feed.max_reconnect_attempts must be >= 1")
	}
	if f.HeartbeatInterval <= 0 {
		return errors.New("feed.heartbeat_interval must be > 0")
	}
	return nil
}

func (l *LevelsConfig) validate() error {
	switch l.Source {
	case "database", "static":
	default:
		return fmt.Errorf("levels.source must be database or static, got %q", l.Source)
	}
	if l.TouchThreshold <= 0 || l.ProximityThreshold <= 0 || l.BreachThreshold <= 0 {
		return errors.New("levels thresholds must be > 0")
	}
	if l.TouchThreshold > l.ProximityThreshold {
		return fmt.Errorf("levels.touch_threshold (%v) cannot exceed proximity_threshold (%v)", l.TouchThreshold, l.ProximityThreshold)
	}
	if l.HistorySize < 1 {
		return errors.New("levels.history_size must be >= 1")
	}
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		return fmt.Errorf("levels.timezone: %w", err)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.SMS.Enabled {
		switch {
		case n.SMS.AccountSID == "":
			return errors.New("notify.sms.account_sid is required")
		case n.SMS.AuthToken == "":
			return errors.New("notify.sms.auth_token is required")
		case n.SMS.From == "":
			return errors.New("notify.sms.from is required")
		case n.SMS.To == "":
			return errors.New("notify.sms.to is required")
		}
	}
	if n.Redis.Enabled && n.Redis.Addr == "" {
		return errors.New("notify.redis.addr is required")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
