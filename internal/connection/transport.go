package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transportConfig configures one websocket transport.
type transportConfig struct {
	URL          string
	TLS          *tls.Config
	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	BufferSize   int
}

// transport is a single websocket connection carrying binary frames.
type transport struct {
	cfg    transportConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPongAt time.Time
	closed     bool
}

func newTransport(cfg transportConfig, logger *slog.Logger) *transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &transport{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the plant and starts the read and ping loops.
func (t *transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  t.cfg.TLS,
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.lastPongAt = time.Now()
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		t.lastPongAt = time.Now()
		t.mu.Unlock()
		return nil
	})

	go t.readLoop()
	go t.pingLoop()

	t.logger.Debug("websocket connected", "url", t.cfg.URL)
	return nil
}

// Close sends a close frame and releases the socket. Safe to call twice.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	close(t.done)

	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	return conn.Close()
}

// Send writes one binary frame.
func (t *transport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *transport) Messages() <-chan TimestampedMessage { return t.messages }

func (t *transport) Errors() <-chan error { return t.errors }

func (t *transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop forwards frames in arrival order. It blocks rather than drop when
// the consumer falls behind.
func (t *transport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-t.done:
			default:
				t.fail(err)
			}
			return
		}

		select {
		case t.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-t.done:
			return
		}
	}
}

// pingLoop sends websocket control pings and reports a stale peer.
func (t *transport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.RLock()
			lastPong := t.lastPongAt
			t.mu.RUnlock()

			if time.Since(lastPong) > t.cfg.PingTimeout {
				t.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", t.cfg.PingTimeout,
				)
				t.fail(ErrStaleConnection)
				return
			}
		}
	}
}

func (t *transport) fail(err error) {
	select {
	case t.errors <- err:
	default:
	}
}

// loadTLSConfig builds the client TLS config, trusting caPath when set.
func loadTLSConfig(caPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
