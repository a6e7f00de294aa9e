package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisEphemeralStore はRedisを使用したTTL付きキーバリューストア。
type RedisEphemeralStore struct {
	client *redis.Client
}

// NewRedisEphemeralStore はRedisEphemeralStoreを生成する。
func NewRedisEphemeralStore(client *redis.Client) *RedisEphemeralStore {
	return &RedisEphemeralStore{client: client}
}

// SetWithTTL は値を書き込み、TTLを設定する。
func (s *RedisEphemeralStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get は値を取得する。キーが存在しない場合はokがfalseになる。
func (s *RedisEphemeralStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// RemainingTTL はPTTLで残りTTLをミリ秒精度で返す。
// Redisはキーなしで-2、TTLなしで-1を返し、go-redisはそれを負のDurationとして渡す。
func (s *RedisEphemeralStore) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// Delete はキーを削除する。
func (s *RedisEphemeralStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (s *RedisEphemeralStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EphemeralStore = (*RedisEphemeralStore)(nil)
