package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyRecent     = "xq:results:recent"
	ttlResult     = 7 * 24 * time.Hour
	recentMaxSize = maxLimit
)

func keyResult(roomID string) string { return "xq:result:" + strings.TrimSpace(roomID) }

// RedisStore keeps a bounded list of recent room ids plus one expiring key
// per result.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis parses a redis:// or rediss:// URL and pings the server.
func OpenRedis(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := redisOptions(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb), nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb, ttl: ttlResult} }

func (s *RedisStore) Record(ctx context.Context, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyResult(r.RoomID), raw, s.ttl)
	pipe.LRem(ctx, keyRecent, 0, r.RoomID)
	pipe.LPush(ctx, keyRecent, r.RoomID)
	pipe.LTrim(ctx, keyRecent, 0, recentMaxSize-1)
	pipe.Expire(ctx, keyRecent, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record %s: %w", r.RoomID, err)
	}
	return nil
}

// Get loads one result; a missing or expired entry returns nil.
func (s *RedisStore) Get(ctx context.Context, roomID string) (*Result, error) {
	raw, err := s.rdb.Get(ctx, keyResult(roomID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Recent skips ids whose result key already expired.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	ids, err := s.rdb.LRange(ctx, keyRecent, 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// redisOptions accepts redis:// and rediss:// URLs, including query options
// such as dial_timeout or pool_size. rediss enables TLS.
func redisOptions(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
