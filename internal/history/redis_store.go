package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "riskengine:history"
	entryTTL         = 7 * 24 * time.Hour
)

// RedisStore is a Redis-backed implementation of Store for deployments
// where multiple engine replicas share identity history. Entries live in a
// per-identity list, most recent first, trimmed to the window size with a
// 7-day TTL so idle identities age out.
type RedisStore struct {
	client *redis.Client
	window int
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string, window int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, window: window, prefix: defaultKeyPrefix}, nil
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":" + identity
}

func (s *RedisStore) Snapshot(ctx context.Context, identity string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(identity), 0, int64(s.window)-1).Result()
	if err != nil {
		return nil, &StoreError{Op: "snapshot", Err: err}
	}

	// List is most recent first; return oldest first.
	entries := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, &StoreError{Op: "snapshot", Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Append(ctx context.Context, identity string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return &StoreError{Op: "append", Err: err}
	}

	key := s.key(identity)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(s.window)-1)
	pipe.Expire(ctx, key, entryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "append", Err: err}
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
