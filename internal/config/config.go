package config

import "time"

// Config is the root configuration for a levelwatch instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Levels   LevelsConfig   `yaml:"levels"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Database DatabaseConfig `yaml:"database"`
	Writers  WritersConfig  `yaml:"writers"`
	Stats    StatsConfig    `yaml:"stats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds market data plant settings.
type FeedConfig struct {
	URI        string `yaml:"uri"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	AppName    string `yaml:"app_name"`
	AppVersion string `yaml:"app_version"` // Defaults to the build version
	SystemName string `yaml:"system_name"`
	InfraType  string `yaml:"infra_type"` // ticker_plant, order_plant, ...
	CACertPath string `yaml:"ca_cert_path"`

	Symbols []SymbolConfig `yaml:"symbols"`

	LoginTimeout         time.Duration `yaml:"login_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SubscribeSpacing     time.Duration `yaml:"subscribe_spacing"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// SymbolConfig is one symbol/exchange subscription.
type SymbolConfig struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
}

// LevelsConfig holds level monitor settings.
type LevelsConfig struct {
	Source             string        `yaml:"source"` // database or static
	TouchThreshold     float64       `yaml:"touch_threshold"`
	ProximityThreshold float64       `yaml:"proximity_threshold"`
	BreachThreshold    float64       `yaml:"breach_threshold"`
	ReloadInterval     time.Duration `yaml:"reload_interval"`
	HistorySize        int           `yaml:"history_size"`
	ReloadWorkers      int           `yaml:"reload_workers"`
	Timezone           string        `yaml:"timezone"`

	// Static maps symbol -> level type -> price for source: static.
	Static map[string]map[string]float64 `yaml:"static"`

	Watch WatchConfig `yaml:"watch"`
}

// WatchConfig configures the folder that MotiveWave exports are dropped
// into. An empty Dir disables the watcher.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
	Symbols  []string      `yaml:"symbols"`
}

// AlertsConfig holds alert engine settings.
type AlertsConfig struct {
	CheckInterval   time.Duration                `yaml:"check_interval"`
	HistorySize     int                          `yaml:"history_size"`
	DefaultDistance float64                      `yaml:"default_distance"`
	DefaultCooldown time.Duration                `yaml:"default_cooldown"`
	SendTimeout     time.Duration                `yaml:"send_timeout"`
	QueueSize       int                          `yaml:"queue_size"`
	Symbols         map[string]AlertSymbolConfig `yaml:"symbols"`
	Rules           []RuleConfig                 `yaml:"rules"`
}

// AlertSymbolConfig overrides alert distance and cooldown for one symbol.
type AlertSymbolConfig struct {
	Distance float64       `yaml:"distance"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// RuleConfig is one configured alert rule.
type RuleConfig struct {
	ID         string             `yaml:"id"`
	Symbol     string             `yaml:"symbol"`
	Kind       string             `yaml:"kind"`     // custom, level_break, approaching_level
	Priority   string             `yaml:"priority"` // low, medium, high, critical
	Conditions map[string]float64 `yaml:"conditions"`
	Cooldown   time.Duration      `yaml:"cooldown"`
	Active     *bool              `yaml:"active"` // Defaults to true
}

// NotifyConfig selects and configures notifiers.
type NotifyConfig struct {
	Log   bool        `yaml:"log"`
	SMS   SMSConfig   `yaml:"sms"`
	Redis RedisConfig `yaml:"redis"`
}

// SMSConfig holds Twilio settings.
type SMSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	AccountSID string        `yaml:"account_sid"`
	AuthToken  string        `yaml:"auth_token"`
	From       string        `yaml:"from"`
	To         string        `yaml:"to"`
	BaseURL    string        `yaml:"base_url"`
	RateEvery  time.Duration `yaml:"rate_every"`
	RateBurst  int           `yaml:"rate_burst"`
	MaxRetries int           `yaml:"max_retries"`
}

// RedisConfig holds alert pub/sub settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DatabaseConfig holds the PostgreSQL connection for levels and archives.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// StatsConfig holds periodic statistics logging settings.
type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig holds health and stats endpoint settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // Empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
