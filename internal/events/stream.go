package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownlabs/updownbot/internal/domain"
)

// RedisStream publishes events to a Redis stream via XADD with approximate
// MAXLEN trimming, giving downstream consumers a durable ordered log.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// StreamConfig holds Redis stream parameters.
type StreamConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	Stream     string
	MaxLen     int64
}

// NewRedisStream connects and verifies the Redis client. Returns an error
// when the server is unreachable so misconfiguration fails at startup.
func NewRedisStream(ctx context.Context, cfg StreamConfig, logger *slog.Logger) (*RedisStream, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &RedisStream{
		rdb:    rdb,
		stream: cfg.Stream,
		maxLen: maxLen,
		logger: logger.With(slog.String("component", "event_stream")),
	}, nil
}

// Publish appends one event to the stream. Failures are logged, not
// returned: event delivery is best effort.
func (s *RedisStream) Publish(ctx context.Context, ev domain.Event) {
	values := map[string]interface{}{
		"type": string(ev.Type),
		"coin": string(ev.Coin),
		"slug": ev.Slug,
		"at":   ev.At.Format(time.RFC3339Nano),
	}
	for k, v := range ev.Detail {
		values["d_"+k] = v
	}

	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.Warn("stream append failed",
			slog.String("stream", s.stream),
			slog.String("error", err.Error()),
		)
	}
}

// Close releases the Redis connection.
func (s *RedisStream) Close() error {
	return s.rdb.Close()
}
