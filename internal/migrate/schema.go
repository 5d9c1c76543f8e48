package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"geosearch/internal/logger"
)

// Statements：目录库最小结构，目录服务只读取 status='approved' 的行
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS startups (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		industry TEXT,
		stage TEXT,
		location_name TEXT,
		longitude DOUBLE PRECISION,
		latitude DOUBLE PRECISION,
		website TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_startups_name ON startups(name)`,
	`CREATE INDEX IF NOT EXISTS idx_startups_status ON startups(status)`,
	`CREATE TABLE IF NOT EXISTS investors (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		investor_type TEXT,
		location_name TEXT,
		longitude DOUBLE PRECISION,
		latitude DOUBLE PRECISION,
		website TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_investors_name ON investors(name)`,
	`CREATE INDEX IF NOT EXISTS idx_investors_status ON investors(status)`,
}

// 背景：首次运行自动创建目录表与索引，保障种子导入与周期刷新
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
