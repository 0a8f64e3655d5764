package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateProjector(); err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Info("Activity Projector starting")

	queue, err := storage.NewActivityQueue(cfg.StorageConnectionString, cfg.ActivityQueue)
	if err != nil {
		logger.Fatalf("queue client: %v", err)
	}
	activityLog, err := storage.NewActivityLog(cfg.StorageConnectionString, cfg.ActivityTable)
	if err != nil {
		logger.Fatalf("activity table: %v", err)
	}
	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &projector{
		queue:   queue,
		log:     activityLog,
		redis:   rc,
		channel: cfg.ActivityChannel,
		poll:    cfg.ProjectorPollInterval,
		logger:  logger,
	}
	p.run(ctx)
	logger.Info("Activity Projector stopped")
}
