package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/domain"
	"prism-board/effects"
	"prism-board/notify"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	health := []api.HealthChecker{func(ctx context.Context) error { return rc.Ping(ctx).Err() }}

	base, db, err := openBoardStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if db != nil {
		health = append(health, db.PingContext)
	}
	store := storage.NewCache(base, rc, cfg.BoardCacheTTL)

	queue, err := storage.NewActivityQueue(cfg.StorageConnectionString, cfg.ActivityQueue)
	if err != nil {
		log.Fatalf("activity queue: %v", err)
	}
	notifier := notify.NewRedis(rc, cfg.InboxSize, 0)
	dispatcher := effects.NewDispatcher(queue, notifier, logger, effects.Config{
		Workers:        cfg.EffectWorkers,
		Buffer:         cfg.EffectBuffer,
		Timeout:        cfg.EffectTimeout,
		HandoffTimeout: cfg.EffectHandoffTimeout,
	})

	engine := domain.NewEngine(store, dispatcher, domain.EngineOptions{
		MaxAttempts:    cfg.EngineMaxAttempts,
		StorageTimeout: cfg.StorageTimeout,
		Logger:         logger,
	})

	opts := api.Options{
		Auth:    newAuth(cfg),
		Deduper: api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Inbox:   notifier,
		Health:  health,
		Logger:  logger,
	}
	if cfg.ActivityTable != "" {
		activityLog, err := storage.NewActivityLog(cfg.StorageConnectionString, cfg.ActivityTable)
		if err != nil {
			log.Fatalf("activity log: %v", err)
		}
		opts.Activity = activityLog
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		ExposeHeaders: []string{"ETag"},
	}))
	api.Register(e, engine, opts)

	listenAddr := cfg.ListenAddr
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		logger.Infof("board api listening on %s, backend: %s", listenAddr, cfg.StorageBackend)
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("effects were still pending at shutdown")
	}
	inline, failed := dispatcher.Stats()
	logger.WithFields(log.Fields{"inline": inline, "failed": failed}).Info("effect dispatcher stopped")
	if db != nil {
		_ = db.Close()
	}
	_ = rc.Close()
}

func openBoardStore(cfg config.Config) (domain.Storage, *sql.DB, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg := storage.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, db, nil
	default:
		tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.BoardsTable)
		if err != nil {
			return nil, nil, err
		}
		return tables, nil, nil
	}
}

func newAuth(cfg config.Config) *api.Auth {
	if cfg.AuthTestMode {
		return api.NewAuth(api.AuthOptions{TestSecret: []byte(cfg.AuthTestSecret)})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(api.AuthOptions{
		JWKS:        jwks,
		Audience:    cfg.AuthAudience,
		Issuer:      "https://" + cfg.AuthDomain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
}
