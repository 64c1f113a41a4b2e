package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisFlagPrefix = "rk:flags:" // rk:flags:{user}:{namespace} -> hash key -> JSON
	redisUsersKey   = "rk:flag_users"
)

// RedisStore 以Redis哈希保存用户标记，可替代SQLite中的 user_flags 表
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("RedisStore"),
	}
}

func flagHashKey(userID, namespace string) string {
	return redisFlagPrefix + userID + ":" + namespace
}

func (r *RedisStore) GetFlag(ctx context.Context, userID, namespace, key string, out any) (bool, error) {
	data, err := r.client.HGet(ctx, flagHashKey(userID, namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("读取标记失败", zap.Error(err), zap.String("userID", userID), zap.String("namespace", namespace))
		return false, fmt.Errorf("读取标记失败: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("解析标记失败: %w", err)
	}
	return true, nil
}

func (r *RedisStore) SetFlag(ctx context.Context, userID, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化标记失败: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, flagHashKey(userID, namespace), key, data)
	pipe.SAdd(ctx, redisUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("保存标记失败", zap.Error(err), zap.String("userID", userID), zap.String("namespace", namespace))
		return fmt.Errorf("保存标记失败: %w", err)
	}
	return nil
}

func (r *RedisStore) FlagKeys(ctx context.Context, userID, namespace string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, flagHashKey(userID, namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取标记键失败: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStore) FlagUsers(ctx context.Context) ([]string, error) {
	users, err := r.client.SMembers(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("读取用户集合失败: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// Ping 启动时检查连接
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("连接Redis失败: %w", err)
	}
	return nil
}

// ParseRedisURL 接受 redis:// URL 或 host:port
func ParseRedisURL(addr string, db int) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("解析Redis地址失败: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr, DB: db}, nil
}
