package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis failure journal.
type RedisConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string
	DB       int
	Key      string // list key, defaults to "tdbridge:failed"
	MaxLen   int64  // newest entries kept, defaults to 1000
}

// Entry is one failed statement as stored in the journal.
type Entry struct {
	Topic     string    `json:"topic"`
	Statement string    `json:"statement"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// RedisJournal keeps the most recent backend failures in a capped Redis list
// for diagnosis. Entries are never replayed.
type RedisJournal struct {
	client *redis.Client
	key    string
	maxLen int64
	logger zerolog.Logger
}

// NewRedisJournal connects to Redis and verifies the connection.
func NewRedisJournal(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisJournal, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis journal requires an address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisJournal(ctx, rdb, cfg, logger)
}

func newRedisJournal(ctx context.Context, rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) (*RedisJournal, error) {
	logger = logger.With().Str("component", "RedisJournal").Logger()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "tdbridge:failed"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		logger.Warn().Int64("default_max_len", 1000).Msg("MaxLen was zero or negative, applying default value.")
		maxLen = 1000
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("key", key).Msg("Successfully connected to Redis for failure journal")
	return &RedisJournal{client: rdb, key: key, maxLen: maxLen, logger: logger}, nil
}

// Record pushes a failure onto the head of the list and trims it to MaxLen.
func (j *RedisJournal) Record(ctx context.Context, topic, statement string, cause error) error {
	entry := Entry{
		Topic:     topic,
		Statement: statement,
		FailedAt:  time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	data, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, j.key, data)
	pipe.LTrim(ctx, j.key, 0, j.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	j.logger.Debug().Str("topic", topic).Msg("Recorded failed statement")
	return nil
}

// Recent returns up to n entries, newest first.
func (j *RedisJournal) Recent(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := j.client.LRange(ctx, j.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := sonic.UnmarshalString(r, &e); err != nil {
			j.logger.Error().Err(err).Msg("Skipping corrupt journal entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the Redis client connection.
func (j *RedisJournal) Close() error {
	if j.client != nil {
		j.logger.Info().Msg("Closing Redis client connection...")
		return j.client.Close()
	}
	return nil
}
