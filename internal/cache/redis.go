package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"officer-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "readings:"

// ListStore is the slice of Redis list commands the history cache needs.
type ListStore interface {
	Push(ctx context.Context, key, value string, max int64, ttl time.Duration) error
	Range(ctx context.Context, key string, count int64) ([]string, error)
}

type RedisListStore struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisListStore(client *redis.Client) *RedisListStore {
	return &RedisListStore{client: client}
}

// Push prepends value, keeps the newest max entries and refreshes the key TTL.
func (s *RedisListStore) Push(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, max-1)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *RedisListStore) Range(ctx context.Context, key string, count int64) ([]string, error) {
	return s.client.LRange(ctx, key, 0, count-1).Result()
}

// HistoryCache keeps each officer's most recent readings in a capped Redis list
// and serves them newest first to warm cold windows.
type HistoryCache struct {
	store    ListStore
	capacity int64
	ttl      time.Duration
	logger   *zap.Logger
}

func NewHistoryCache(store ListStore, capacity int, ttl time.Duration, logger *zap.Logger) *HistoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryCache{store: store, capacity: int64(capacity), ttl: ttl, logger: logger}
}

func (h *HistoryCache) Push(ctx context.Context, r models.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := h.store.Push(ctx, keyPrefix+r.SubjectID, string(data), h.capacity, h.ttl); err != nil {
		return fmt.Errorf("failed to cache reading for %s: %w", r.SubjectID, err)
	}
	return nil
}

func (h *HistoryCache) RecentReadings(ctx context.Context, subjectID string, limit int) ([]models.Reading, error) {
	if int64(limit) > h.capacity {
		limit = int(h.capacity)
	}
	values, err := h.store.Range(ctx, keyPrefix+subjectID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent readings for %s: %w", subjectID, err)
	}

	readings := make([]models.Reading, 0, len(values))
	for _, v := range values {
		var r models.Reading
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			h.logger.Warn("Skipping unreadable cached reading", zap.String("subject_id", subjectID), zap.Error(err))
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}
