package config

import (
	"time"

	"github.com/rickgao/levelwatch/internal/version"
)

// Default values for optional configuration fields.
const (
	DefaultAppName              = "levelwatch"
	DefaultSystemName           = "Rithmic Paper Trading"
	DefaultInfraType            = "ticker_plant"
	DefaultExchange             = "CME"
	DefaultLoginTimeout         = 30 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultSubscribeSpacing     = 100 * time.Millisecond
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultFeedBufferSize       = 1000

	DefaultLevelSource        = "database"
	DefaultTouchThreshold     = 0.25
	DefaultProximityThreshold = 2.0
	DefaultBreachThreshold    = 0.5
	DefaultReloadInterval     = 5 * time.Minute
	DefaultHistorySize        = 1000
	DefaultReloadWorkers      = 4
	DefaultTimezone           = "America/New_York"
	DefaultWatchInterval      = 5 * time.Minute
	DefaultWatchMaxAge        = 24 * time.Hour

	DefaultCheckInterval = 1 * time.Second
	DefaultAlertDistance = 2.0
	DefaultAlertCooldown = 15 * time.Minute
	DefaultSendTimeout   = 10 * time.Second
	DefaultAlertQueue    = 256
	DefaultSMSRateEvery  = 1 * time.Second
	DefaultSMSRateBurst  = 5
	DefaultSMSMaxRetries = 3
	DefaultRedisChannel  = "levelwatch:alerts"

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000

	DefaultStatsInterval = 5 * time.Minute
	DefaultHTTPPort      = 8080

	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 30
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	// Feed defaults
	if c.Feed.AppName == "" {
		c.Feed.AppName = DefaultAppName
	}
	if c.Feed.AppVersion == "" {
		c.Feed.AppVersion = version.Version
	}
	if c.Feed.SystemName == "" {
		c.Feed.SystemName = DefaultSystemName
	}
	if c.Feed.InfraType == "" {
		c.Feed.InfraType = DefaultInfraType
	}
	for i := range c.Feed.Symbols {
		if c.Feed.Symbols[i].Exchange == "" {
			c.Feed.Symbols[i].Exchange = DefaultExchange
		}
	}
	if c.Feed.LoginTimeout == 0 {
		c.Feed.LoginTimeout = DefaultLoginTimeout
	}
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.SubscribeSpacing == 0 {
		c.Feed.SubscribeSpacing = DefaultSubscribeSpacing
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Levels defaults
	if c.Levels.Source == "" {
		c.Levels.Source = DefaultLevelSource
	}
	if c.Levels.TouchThreshold == 0 {
		c.Levels.TouchThreshold = DefaultTouchThreshold
	}
	if c.Levels.ProximityThreshold == 0 {
		c.Levels.ProximityThreshold = DefaultProximityThreshold
	}
	if c.Levels.BreachThreshold == 0 {
		c.Levels.BreachThreshold = DefaultBreachThreshold
	}
	if c.Levels.ReloadInterval == 0 {
		c.Levels.ReloadInterval = DefaultReloadInterval
	}
	if c.Levels.HistorySize == 0 {
		c.Levels.HistorySize = DefaultHistorySize
	}
	if c.Levels.ReloadWorkers == 0 {
		c.Levels.ReloadWorkers = DefaultReloadWorkers
	}
	if c.Levels.Timezone == "" {
		c.Levels.Timezone = DefaultTimezone
	}
	if c.Levels.Watch.Interval == 0 {
		c.Levels.Watch.Interval = DefaultWatchInterval
	}
	if c.Levels.Watch.MaxAge == 0 {
		c.Levels.Watch.MaxAge = DefaultWatchMaxAge
	}
	if len(c.Levels.Watch.Symbols) == 0 {
		c.Levels.Watch.Symbols = []string{"ES", "NQ"}
	}

	// Alerts defaults
	if c.Alerts.CheckInterval == 0 {
		c.Alerts.CheckInterval = DefaultCheckInterval
	}
	if c.Alerts.HistorySize == 0 {
		c.Alerts.HistorySize = DefaultHistorySize
	}
	if c.Alerts.DefaultDistance == 0 {
		c.Alerts.DefaultDistance = DefaultAlertDistance
	}
	if c.Alerts.DefaultCooldown == 0 {
		c.Alerts.DefaultCooldown = DefaultAlertCooldown
	}
	if c.Alerts.SendTimeout == 0 {
		c.Alerts.SendTimeout = DefaultSendTimeout
	}
	if c.Alerts.QueueSize == 0 {
		c.Alerts.QueueSize = DefaultAlertQueue
	}

	// Notify defaults
	if c.Notify.SMS.RateEvery == 0 {
		c.Notify.SMS.RateEvery = DefaultSMSRateEvery
	}
	if c.Notify.SMS.RateBurst == 0 {
		c.Notify.SMS.RateBurst = DefaultSMSRateBurst
	}
	if c.Notify.SMS.MaxRetries == 0 {
		c.Notify.SMS.MaxRetries = DefaultSMSMaxRetries
	}
	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = DefaultRedisChannel
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	if c.Stats.Interval == 0 {
		c.Stats.Interval = DefaultStatsInterval
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
