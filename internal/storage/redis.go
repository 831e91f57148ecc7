package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/tracing"
)

// ErrNotFound 键不存在时返回，对上层屏蔽 redis.Nil
var ErrNotFound = redis.Nil

// Redis 封装go-redis客户端，承担进度存储与内容去重
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接并挂载OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	}

	client := redis.NewClient(opt)

	// 记录所有Redis操作到追踪链路
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	r := &Redis{Client: client, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return r, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连通性
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// ---- progress.Store 实现 ----

// Put 写入进度记录并设置TTL
func (r *Redis) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("写入键 %s 失败: %w", tracing.SafeRedisKey(key), err)
	}
	return nil
}

// Get 读取进度记录，过期或不存在返回 progress.ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	data, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", progress.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("读取键 %s 失败: %w", tracing.SafeRedisKey(key), err)
	}
	return data, nil
}

// Delete 删除进度记录
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Del(ctx, key).Err()
}

// ---- 解析文本内容去重 ----

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// TextMD5 计算规范化文本的MD5十六进制摘要
func TextMD5(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CheckParsedTextMD5Exists 检查解析文本MD5是否已在去重集合中
func (r *Redis) CheckParsedTextMD5Exists(ctx context.Context, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	return r.Client.SIsMember(ctx, constants.KeyTextMD5Set, md5Hex).Result()
}

// AddParsedTextMD5 添加解析文本MD5到去重集合
// ExpireNX 只在集合尚无过期时间时设置，避免每次写入都续期
func (r *Redis) AddParsedTextMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	pipe := r.Client.Pipeline()
	pipe.SAdd(ctx, constants.KeyTextMD5Set, md5Hex)
	pipe.ExpireNX(ctx, constants.KeyTextMD5Set, r.GetMD5ExpireDuration())
	_, err := pipe.Exec(ctx)
	return err
}
