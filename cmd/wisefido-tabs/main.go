package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-tabs/internal/config"
	"wisefido-tabs/internal/database"
	httpapi "wisefido-tabs/internal/http"
	"wisefido-tabs/internal/logger"
	"wisefido-tabs/internal/repository"
	"wisefido-tabs/internal/seed"
	"wisefido-tabs/internal/service"
	"wisefido-tabs/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-tabs")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 解析缓存（可选）：Redis不可用或禁用时cache为nil，resolve直接走快照查询
	var cache *service.ResolveCache
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("Redis unavailable, resolve cache disabled", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			cache = service.NewResolveCache(store.NewRedisKV(redisClient), cfg.Cache.TTL, log)
		}
	}

	// Optional DB-backed repos; fall back to memory repos when DB is unavailable
	// (keeps the tab bar working with plain `go run`, same policy as the other services).
	var db *sql.DB
	var entriesRepo repository.EntriesRepository
	var presetsRepo repository.PresetsRepository
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for wisefido-tabs")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repos", zap.Error(err))
		}
	}
	if db != nil {
		entriesRepo = repository.NewPostgresEntriesRepository(db)
		presetsRepo = repository.NewPostgresPresetsRepository(db)
	} else {
		entriesRepo = repository.NewMemoryEntriesRepository()
		presetsRepo = repository.NewMemoryPresetsRepository()
		// Dev bootstrap: memory mode starts empty, seed the default system tabs + presets
		// so owlFront pages aren't blank.
		if err := seed.Apply(context.Background(), entriesRepo, presetsRepo); err != nil {
			log.Warn("failed to seed default tab configs", zap.Error(err))
		}
	}

	icons := service.NewStaticRegistry(service.DefaultIcons...)
	renderers := service.NewStaticRegistry(service.DefaultRenderers...)
	// 授权决策由网关侧服务提供；独立运行时全部放行
	authz := service.AllowAllAuthz{}

	entryService := service.NewEntryService(entriesRepo, icons, renderers, authz, cache, log)
	resolverService := service.NewResolverService(entriesRepo, cache, log)
	presetService := service.NewPresetService(presetsRepo, entriesRepo, icons, renderers, authz, cache, log)

	router := httpapi.NewRouter(log)
	router.RegisterTabResolveRoutes(httpapi.NewTabsResolveHandler(resolverService, log))
	router.RegisterAdminTabConfigRoutes(httpapi.NewTabConfigHandler(entryService, log))
	router.RegisterAdminTabPresetRoutes(httpapi.NewTabPresetsHandler(presetService, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	// 主context此时已cancel，排空窗口必须挂在Background上，否则Shutdown立即放弃在途请求
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
