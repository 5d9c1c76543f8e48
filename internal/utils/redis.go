package utils

import (
	"context"
	"fmt"
	"time"

	"geosearch/internal/logger"

	"github.com/redis/go-redis/v9"
)

// RedisAddrFromEnv：REDIS_HOST:REDIS_PORT，默认 127.0.0.1:6379
func RedisAddrFromEnv() string {
	return env("REDIS_HOST", "127.0.0.1") + ":" + env("REDIS_PORT", "6379")
}

// 文档注释：从环境变量打开 Redis 客户端
// 背景：地理编码二级缓存与 redis 历史介质共用一个客户端。
// 约束：REDIS_DB 解析失败回退到 0；Ping 失败时关闭客户端并返回错误，调用方决定降级。
func OpenRedisFromEnv(ctx context.Context) (*redis.Client, error) {
	addr := RedisAddrFromEnv()
	db := envInt("REDIS_DB", 0)
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: env("REDIS_PASS", ""), DB: db})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rc, nil
}
