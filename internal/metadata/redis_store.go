package metadata

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOptions 描述 Redis 连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore 以 Redis hash 保存记录：key 为分发包路径，字段为 valid/path。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new store backed by Redis. 连接是惰性的，
// 启动阶段可调用 Ping 提前暴露配置错误。
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: rdb}
}

// NewRedisStoreFromClient 复用外部构建的 client，便于测试注入。
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get 通过 HGETALL 读取记录并解码；记录不存在时 ok=false。
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: hgetall %s: %v", ErrUnavailable, key, err)
	}
	entry, ok := DecodeEntry(fields)
	return entry, ok, nil
}

// Set 通过 HSET 整体覆盖记录中的全部字段，重复调用结果一致。
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	if err := s.client.HSet(ctx, key, EncodeEntry(entry)).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Ping 检查 Redis 连通性。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close 释放连接池。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
