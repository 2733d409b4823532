package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// RedisSink records coordination events in a Redis Stream so an external
// memory layer can replay engine history. Emission failures are logged and
// dropped; the engine never depends on the sink for correctness.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	ttl    time.Duration
	logger *slog.Logger
}

// RedisConfig holds Redis sink configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Stream is the stream key events are appended to (default:
	// "orchestrator:events")
	Stream string

	// MaxLen caps the stream length (approximate trim; 0 = unbounded)
	MaxLen int64

	// TTL refreshes the stream key's expiry on every append (0 = no expiry)
	TTL time.Duration

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Stream:       "orchestrator:events",
		MaxLen:       10000,
		TTL:          7 * 24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisSink connects to Redis and returns a sink appending to a stream.
func NewRedisSink(cfg *RedisConfig, logger *slog.Logger) (*RedisSink, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.Options{
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "orchestrator:events"
	}

	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: cfg.MaxLen,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Emit appends the event to the stream.
func (s *RedisSink) Emit(ctx context.Context, event types.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		s.logger.Warn("marshal event payload", "error", err)
		payload = []byte("{}")
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":        event.ID,
			"type":      string(event.Type),
			"task_id":   event.TaskID,
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.logger.Warn("append coordination event",
			slog.String("type", string(event.Type)),
			slog.String("task_id", event.TaskID),
			"error", err,
		)
		return
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, s.stream, s.ttl)
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
