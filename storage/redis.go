package storage

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

const redisScanCount = 256

type RedisStorage struct {
	client *redis.Client
	logger types.Logger
	prefix string
}

var _ types.StorageAdapter = (*RedisStorage)(nil)

func NewRedisStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (*RedisStorage, error) {
	redisConfig := config.Redis
	if redisConfig == nil {
		redisConfig = &types.RedisStorageConfig{Host: "localhost", Port: 6379}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(redisConfig.Host, strconv.Itoa(redisConfig.Port)),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	return newRedisStorage(ctx, logger, client, config.KeyPrefix)
}

// NewRedisStorageWithClient uses an existing client; Close closes it.
func NewRedisStorageWithClient(ctx context.Context, logger types.Logger, client *redis.Client, prefix string) (*RedisStorage, error) {
	return newRedisStorage(ctx, logger, client, prefix)
}

func newRedisStorage(ctx context.Context, logger types.Logger, client *redis.Client, prefix string) (*RedisStorage, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.Errorf(types.ErrStorageOpenFailed, "redis %s: %v", client.Options().Addr, err)
	}

	logger.Info("Redis storage connected",
		zap.String("addr", client.Options().Addr),
		zap.String("prefix", prefix))

	return &RedisStorage{
		client: client,
		logger: logger,
		prefix: prefix,
	}, nil
}

func (r *RedisStorage) prefixKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *RedisStorage) stripKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, r.prefix+":")
}

func (r *RedisStorage) pattern() string {
	if r.prefix == "" {
		return "*"
	}
	return r.prefix + ":*"
}

func (r *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.prefixKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.Errorf(types.ErrStorageOperationFailed, "get %s: %v", key, err)
	}
	return value, true, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefixKey(key), value, 0).Err(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixKey(key)).Err(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "remove %s: %v", key, err)
	}
	return nil
}

// Clear deletes only keys under the configured prefix.
func (r *RedisStorage) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.pattern(), redisScanCount).Iterator()

	batch := make([]string, 0, redisScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanCount {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return types.Errorf(types.ErrStorageOperationFailed, "clear: %v", err)
			}
			batch = batch[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "clear: %v", err)
	}

	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return types.Errorf(types.ErrStorageOperationFailed, "clear: %v", err)
		}
	}

	return nil
}

func (r *RedisStorage) GetAllKeys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)

	iter := r.client.Scan(ctx, 0, r.pattern(), redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripKey(iter.Val()))
	}

	if err := iter.Err(); err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "keys: %v", err)
	}

	return keys, nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis storage")
	}
	r.logger.Info("Redis storage closed")
	return nil
}
