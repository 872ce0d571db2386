package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/integration-hub/internal/notify"
)

const redisIndexKey = "dedup:index"

// RedisStore keeps one key per (type, hash) with a TTL, plus a sorted-set
// index by creation time for cleanup.
type RedisStore struct {
	client     redis.UniversalClient
	expiration time.Duration
}

func NewRedisStore(client redis.UniversalClient, expiration time.Duration) *RedisStore {
	return &RedisStore{client: client, expiration: expiration}
}

func redisKey(typ notify.Type, hash string) string {
	return "dedup:" + string(typ) + ":" + hash
}

func (s *RedisStore) Find(ctx context.Context, hash string, typ notify.Type, notOlderThan time.Time) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKey(typ, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode record: %w", err)
	}
	if rec.SentAt.Before(notOlderThan) {
		return nil, nil
	}
	return &rec, nil
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode record: %w", err)
	}
	key := redisKey(rec.Type, rec.Hash)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, body, s.expiration)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.CreatedAt.Unix()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := strconv.FormatInt(cutoff.Unix()-1, 10)
	keys, err := s.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: list expired records: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: delete records: %w", err)
	}
	if err := s.client.ZRemRangeByScore(ctx, redisIndexKey, "-inf", upper).Err(); err != nil {
		return removed, fmt.Errorf("redis: trim index: %w", err)
	}
	return removed, nil
}
