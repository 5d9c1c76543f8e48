// 目录种子导入工具：建表并把 JSON 种子文件写入目录库（按名称覆盖）
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"geosearch/internal/directory"
	"geosearch/internal/logger"
	"geosearch/internal/migrate"
	"geosearch/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	envFile := flag.String("env", "", "env file with PG_* settings")
	status := flag.String("status", "approved", "status written for every row")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: directory-seed [--env file] [--status approved|pending] <seed.json>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	} else {
		_ = godotenv.Load(".env")
	}
	l := logger.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	es, err := directory.FileLoader{Path: flag.Arg(0)}.Load(ctx)
	if err != nil {
		l.Error("seed_read_error", "err", err)
		os.Exit(1)
	}
	if len(es) == 0 {
		l.Error("seed_empty", "path", flag.Arg(0))
		os.Exit(1)
	}
	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	n, err := directory.NewPostgresLoader(db).Upsert(ctx, es, *status)
	if err != nil {
		l.Error("seed_upsert_error", "err", err)
		os.Exit(1)
	}
	l.Info("seed_done", "rows", n, "skipped", len(es)-n, "status", *status)
}
