package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"pancomido/auth/internal/cache"
	"pancomido/auth/internal/config"
	"pancomido/auth/internal/database"
	"pancomido/auth/internal/log"
	"pancomido/auth/internal/queue"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/storage"
	"pancomido/auth/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "auth-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	var archive tasks.DeviceArchiver
	if cfg.Storage.Endpoint != "" {
		store, err := storage.NewArchiveStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init archive store")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure audit bucket failed")
		}
		archive = store
	} else {
		logger.Warn().Msg("storage endpoint not configured, purged devices are not archived")
	}

	processor := tasks.NewProcessor(
		repository.NewOTPTokenRepository(dbPool),
		repository.NewTrustedDeviceRepository(dbPool),
		archive,
		cfg.Jobs.OTPRetention,
		logger,
	)
	consumer := queue.NewConsumer(client, cfg.Redis, cfg.Jobs.ClaimInterval, logger, processor)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
