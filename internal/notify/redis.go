package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rickgao/levelwatch/internal/model"
)

// DefaultChannel is the Redis channel alerts are published on.
const DefaultChannel = "levelwatch:alerts"

// Publisher is the subset of the Redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Payload is the JSON document published for each message.
type Payload struct {
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisNotifier publishes messages to a Redis channel for downstream
// consumers such as dashboards.
type RedisNotifier struct {
	pub     Publisher
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisClient opens a client and verifies it with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(pub Publisher, channel string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{
		pub:     pub,
		channel: channel,
		logger:  logger.With("component", "redis_notifier"),
		now:     time.Now,
	}
}

// Send publishes the message. Delivery counts as successful even when no
// subscriber is listening.
func (n *RedisNotifier) Send(ctx context.Context, message string, priority model.AlertPriority) bool {
	data, err := json.Marshal(Payload{
		Message:   message,
		Priority:  priority.String(),
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to marshal alert", "error", err)
		return false
	}

	receivers, err := n.pub.Publish(ctx, n.channel, data).Result()
	if err != nil {
		n.logger.Warn("failed to publish alert", "channel", n.channel, "error", err)
		return false
	}
	n.logger.Debug("alert published", "channel", n.channel, "receivers", receivers)
	return true
}
