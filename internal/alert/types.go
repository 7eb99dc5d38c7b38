package alert

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
)

// Errors
var (
	ErrRuleID           = errors.New("rule id is required")
	ErrRuleSymbol       = errors.New("rule symbol is required")
	ErrNoConditions     = errors.New("rule has no conditions")
	ErrUnknownCondition = errors.New("unknown rule condition")
	ErrLevelPrice       = errors.New("level price must be positive")
)

// Rule condition keys.
const (
	CondPriceAbove  = "price_above"
	CondPriceBelow  = "price_below"
	CondLevelPrice  = "level_price"
	CondMaxDistance = "max_distance"
)

// Notifier delivers an alert message. It reports whether delivery succeeded.
type Notifier interface {
	Send(ctx context.Context, message string, priority model.AlertPriority) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string, priority model.AlertPriority) bool

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, message string, priority model.AlertPriority) bool {
	return f(ctx, message, priority)
}

// LevelSource supplies the current structural levels of a symbol.
type LevelSource interface {
	Levels(symbol string) []model.StructuralLevel
}

// Listener receives every alert that was delivered.
type Listener interface {
	OnAlert(alert model.Alert) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(alert model.Alert) error

// OnAlert calls f(alert).
func (f ListenerFunc) OnAlert(alert model.Alert) error {
	return f(alert)
}

// SymbolConfig overrides alert distance and cooldown for one symbol.
type SymbolConfig struct {
	Distance float64
	Cooldown time.Duration
}

// Config holds Engine configuration.
type Config struct {
	CheckInterval   time.Duration // Periodic re-check of the latest prices (default: 1s)
	HistorySize     int           // Delivered alerts kept in memory (default: 1000)
	DefaultDistance float64       // Level alert distance in points (default: 2.0)
	DefaultCooldown time.Duration // Per rule/level cooldown (default: 15m)
	SendTimeout     time.Duration // Per notification (default: 10s)
	QueueSize       int           // Alerts awaiting delivery (default: 256)
	Symbols         map[string]SymbolConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   time.Second,
		HistorySize:     1000,
		DefaultDistance: 2.0,
		DefaultCooldown: 15 * time.Minute,
		SendTimeout:     10 * time.Second,
		QueueSize:       256,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.DefaultDistance <= 0 {
		c.DefaultDistance = d.DefaultDistance
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = d.DefaultCooldown
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
}

func (c Config) distance(symbol string) float64 {
	if s, ok := c.Symbols[symbol]; ok && s.Distance > 0 {
		return s.Distance
	}
	return c.DefaultDistance
}

func (c Config) cooldown(symbol string) time.Duration {
	if s, ok := c.Symbols[symbol]; ok && s.Cooldown > 0 {
		return s.Cooldown
	}
	return c.DefaultCooldown
}

// Level is a structural level watched for proximity alerts. Zero
// AlertDistance and Cooldown fall back to the symbol's configuration.
type Level struct {
	model.StructuralLevel
	AlertDistance float64
	Cooldown      time.Duration
	Disabled      bool
}

// Stats contains Engine statistics.
type Stats struct {
	AlertsSent       int64
	AlertsSuppressed int64 // Failed, panicked or dropped deliveries
	AlertsDropped    int64 // Dropped because the dispatch queue was full
	Pending          int   // Queued, not yet delivered
	RuleErrors       int64
	ListenerErrors   int64
	Checks           int64
	LevelsMonitored  int
	LevelsBySymbol   map[string]int
	ActiveRules      int
	RecentAlerts     int // Delivered in the last hour
	HistoryLen       int
	StartTime        time.Time
	Uptime           time.Duration
}
