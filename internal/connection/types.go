package connection

import (
	"errors"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
	"github.com/rickgao/levelwatch/internal/router"
)

// Errors
var (
	ErrConnect          = errors.New("connect failed")
	ErrAuth             = errors.New("authentication failed")
	ErrAuthTimeout      = errors.New("authentication timed out")
	ErrTransportLost    = errors.New("transport lost")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrInterrupted      = errors.New("connect interrupted by disconnect")
)

// Defaults
const (
	DefaultLoginTimeout         = 30 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultSubscribeSpacing     = 100 * time.Millisecond
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultBufferSize           = 1000

	// maxHeartbeatFailures consecutive heartbeat send failures mean the session is gone.
	maxHeartbeatFailures = 3
)

// Subscription is one (symbol, exchange) pair.
type Subscription struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
}

// Config holds protocol client configuration.
type Config struct {
	URI        string
	User       string
	Password   string
	AppName    string
	AppVersion string
	SystemName string
	InfraType  protocol.InfraType
	CACertPath string // Optional PEM bundle; system roots when empty

	Symbols []Subscription

	LoginTimeout         time.Duration
	HeartbeatInterval    time.Duration // Consumer read timeout before a heartbeat is sent
	ReconnectBaseDelay   time.Duration // Delay before attempt n is base*n
	MaxReconnectAttempts int
	SubscribeSpacing     time.Duration

	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	BufferSize   int
}

// DefaultConfig returns a Config with timing defaults filled in.
func DefaultConfig() Config {
	return Config{
		AppName:              "levelwatch",
		InfraType:            protocol.InfraTickerPlant,
		LoginTimeout:         DefaultLoginTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		SubscribeSpacing:     DefaultSubscribeSpacing,
		WriteTimeout:         DefaultWriteTimeout,
		PingInterval:         DefaultPingInterval,
		PingTimeout:          DefaultPingTimeout,
		BufferSize:           DefaultBufferSize,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	if c.InfraType == 0 {
		c.InfraType = d.InfraType
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.SubscribeSpacing < 0 {
		c.SubscribeSpacing = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
}

// TickListener receives every trade and quote for the symbols it registered for.
type TickListener interface {
	OnTick(tick model.MarketTick) error
}

// TickListenerFunc adapts a function to TickListener.
type TickListenerFunc func(tick model.MarketTick) error

// OnTick calls f(tick).
func (f TickListenerFunc) OnTick(tick model.MarketTick) error { return f(tick) }

// StateListener is told about every state transition.
// Listeners must not call Connect or Disconnect synchronously.
type StateListener interface {
	OnState(state State)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(state State)

// OnState calls f(state).
func (f StateListenerFunc) OnState(state State) { f(state) }

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Stats contains client statistics.
type Stats struct {
	State              State
	TradesReceived     int64
	QuotesReceived     int64
	ConnectionAttempts int64
	ReconnectCount     int64
	HeartbeatsSent     int64
	HeartbeatFailures  int64
	ListenerErrors     int64
	Subscriptions      int
	LastDataTime       time.Time
	StartTime          time.Time
	Uptime             time.Duration
	Router             router.RouterStats
}
