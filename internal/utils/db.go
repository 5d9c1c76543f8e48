// 包 utils：外部连接工具（Postgres、Redis、自签证书），统一环境变量读取
package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv：由 PG_* 变量拼接 DSN，未设置项使用本地默认值
func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     env("PG_HOST", "localhost") + ":" + env("PG_PORT", "5432"),
		Path:     "/" + env("PG_DB", "directory"),
		RawQuery: "sslmode=" + env("PG_SSLMODE", "disable"),
	}
	user := env("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// 文档注释：打开目录库连接
// 背景：目录服务只做周期性全量读取，连接池无需很大；PG_MAX_OPEN_CONNS / PG_MAX_IDLE_CONNS 可覆盖。
// 约束：打开后立即 Ping，失败时关闭连接并返回错误，调用方可回退到静态目录。
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(envInt("PG_MAX_OPEN_CONNS", 8))
	db.SetMaxIdleConns(envInt("PG_MAX_IDLE_CONNS", 4))
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
