package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

const redisIndexKey = "app-whisper:jobs:index"

// RedisArchive 把结束的任务快照写入 Redis，带过期时间
type RedisArchive struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisArchive 连接 Redis
func NewRedisArchive(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return newRedisArchive(client, ttl), nil
}

func newRedisArchive(client *redis.Client, ttl time.Duration) *RedisArchive {
	return &RedisArchive{client: client, ttl: ttl}
}

// getKey 格式: "app-whisper:job:{jobID}"
func (ra *RedisArchive) getKey(jobID string) string {
	return fmt.Sprintf("app-whisper:job:%s", jobID)
}

// Archive 写入快照并加入按创建时间排序的索引
func (ra *RedisArchive) Archive(ctx context.Context, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	pipe := ra.client.TxPipeline()
	pipe.Set(ctx, ra.getKey(job.ID), data, ra.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.Unix()),
		Member: job.ID,
	})
	if ra.ttl > 0 {
		// 创建时间早于 TTL 的索引项一并删除
		cutoff := time.Now().Add(-ra.ttl).Unix()
		pipe.ZRemRangeByScore(ctx, redisIndexKey, "-inf", strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}

	return nil
}

// Close 关闭 Redis 连接
func (ra *RedisArchive) Close() error {
	return ra.client.Close()
}
