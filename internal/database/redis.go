package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions はRedis接続の設定を保持する。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration // 読み書き・接続のタイムアウト
}

// NewRedisClient はRedisクライアントを生成する。接続は最初のコマンド実行時に行われる。
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})
}

// ConnectRedis はRedisクライアントを生成し、疎通を確認する。
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := NewRedisClient(opts)

	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
