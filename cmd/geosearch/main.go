// 程序入口：仅负责读取配置、初始化依赖并启动外壳服务；API 注册在 internal/api
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geosearch/internal/api"
	"geosearch/internal/boundary"
	"geosearch/internal/config"
	"geosearch/internal/directory"
	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
	"geosearch/internal/history"
	"geosearch/internal/logger"
	"geosearch/internal/mapsurface"
	"geosearch/internal/metrics"
	"geosearch/internal/middleware"
	"geosearch/internal/migrate"
	"geosearch/internal/overlay"
	"geosearch/internal/suggest"
	"geosearch/internal/utils"

	"github.com/redis/go-redis/v9"
)

func main() {
	config.LoadDotenv()
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisEnabled || cfg.HistoryBackend == "redis" {
		rc, err = utils.OpenRedisFromEnv(ctx)
		if err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
			defer rc.Close()
		}
	} else {
		l.Info("redis_disabled")
	}

	ix := directory.NewIndex(openDirectory(ctx, cfg, l))

	client := geocoder.NewClient(cfg.GeocoderBaseURL, cfg.GeocoderToken, &http.Client{Timeout: cfg.GeocoderTimeout})
	var ttl time.Duration
	if rc != nil {
		ttl = cfg.GeocodeCacheTTL
	}
	places := geocoder.NewCached(client, geocoder.NewLRU(1024, 10*time.Minute), rc, ttl)
	if cfg.GeocoderToken == "" {
		l.Warn("geocoder_token_missing")
	}

	hist := history.NewStore(openHistory(cfg, rc, l), cfg.HistoryKey)
	proximity := cfg.Proximity
	agg := suggest.New(ix, places, suggest.Options{
		MinQueryLen: cfg.SuggestMinQueryLen,
		Country:     cfg.GeocoderCountry,
		Proximity:   &proximity,
		Debounce:    cfg.SuggestDebounce,
	})
	resolver := boundary.NewResolver(places, cfg.GeocoderCountry)
	surface := mapsurface.New()
	ov := overlay.New(surface, resolver, hist, places, overlay.Options{
		MinSubmitLen: cfg.SearchMinQueryLen,
		Country:      cfg.GeocoderCountry,
		Proximity:    &proximity,
	})

	// 文档注释：目录刷新后重建批量标记
	// 背景：批量标记以整组替换，刷新成功即按新快照替换两类标记。
	ix.OnRefresh(func(ix *directory.Index) {
		for _, k := range []geo.Kind{geo.KindStartup, geo.KindInvestor} {
			if _, err := ov.SetBulkMarkers(k, ix.All(k)); err != nil {
				l.Error("bulk_markers_error", "kind", k.String(), "err", err)
			}
		}
	})
	ix.Start(ctx, cfg.DirectoryRefresh)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{
		Aggregator: agg,
		Sync:       ov,
		Entities:   ix,
		History:    hist,
		Boundaries: resolver,
		Surface:    surface,
	})
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler, cfg.RateLimitEnabled, cfg.RateLimitQPS)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		if cfg.TLSEnable {
			if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "geosearch.local"); err != nil {
				errc <- err
				return
			}
			l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
			errc <- s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		l.Info("listening", "addr", cfg.Addr)
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			l.Error("server_error", "err", err)
		}
	case <-ctx.Done():
		l.Info("shutdown_begin")
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		l.Error("shutdown_error", "err", err)
	}
	if err := ov.Close(); err != nil {
		l.Error("overlay_close_error", "err", err)
	}
	l.Info("shutdown_done")
}

// openDirectory：postgres 不可用时回退到种子文件
func openDirectory(ctx context.Context, cfg *config.Config, l *slog.Logger) directory.Loader {
	seed := directory.FileLoader{Path: cfg.DirectorySeed}
	if cfg.DirectorySource != "postgres" {
		l.Info("directory_source", "source", "static", "path", cfg.DirectorySeed)
		return seed
	}
	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		l.Error("db_open_error", "err", err, "fallback", cfg.DirectorySeed)
		return seed
	}
	l.Info("db_open_ok")
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
	}
	return directory.NewPostgresLoader(db)
}

func openHistory(cfg *config.Config, rc *redis.Client, l *slog.Logger) history.Medium {
	switch cfg.HistoryBackend {
	case "redis":
		if rc != nil {
			l.Info("history_backend", "backend", "redis")
			return history.NewRedisMedium(rc, 0)
		}
		l.Warn("history_backend_fallback", "want", "redis", "got", "memory")
	case "file":
		fm, err := history.NewFileMedium(cfg.HistoryDir)
		if err == nil {
			l.Info("history_backend", "backend", "file", "dir", cfg.HistoryDir)
			return fm
		}
		l.Warn("history_backend_fallback", "want", "file", "got", "memory", "err", err)
	}
	return history.NewMemoryMedium()
}
