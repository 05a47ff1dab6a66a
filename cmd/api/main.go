package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/cache"
	"pancomido/auth/internal/captcha"
	"pancomido/auth/internal/config"
	"pancomido/auth/internal/database"
	"pancomido/auth/internal/handlers"
	"pancomido/auth/internal/jobs"
	"pancomido/auth/internal/log"
	"pancomido/auth/internal/notify"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/security"
	"pancomido/auth/internal/server"
	"pancomido/auth/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "auth-api")

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// Redis only backs rate limiting and the maintenance stream.
	var redisClient *redis.Client
	if client, err := cache.NewRedisClient(ctx, cfg.Redis); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting and maintenance disabled")
	} else {
		redisClient = client
	}

	users := repository.NewUserRepository(dbPool)
	otpTokens := repository.NewOTPTokenRepository(dbPool)
	devices := repository.NewTrustedDeviceRepository(dbPool)

	issuer := security.NewTokenIssuer(cfg.Security.JWTSecret, time.Now)
	otpService := service.NewOTPService(otpTokens, users, cfg.OTP, time.Now)
	deviceService := service.NewDeviceService(devices, cfg.Security.DeviceTokenSecret, cfg.Device.TrustTTL, time.Now)
	authService := service.NewAuthService(users, otpService, deviceService, issuer, newNotifier(cfg, logger), cfg, logger)

	deps := handlers.Dependencies{DB: dbPool}
	if redisClient != nil {
		deps.Cache = redisClient
	}
	if verifier := captcha.NewTurnstile(cfg.Turnstile); verifier != nil {
		deps.Captcha = verifier
	} else {
		logger.Warn().Msg("turnstile secret not configured, captcha disabled")
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, authService, deps)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	var scheduler *jobs.Scheduler
	if redisClient != nil {
		scheduler = jobs.NewScheduler(redisClient, cfg, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
		}
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func newNotifier(cfg *config.AppConfig, logger zerolog.Logger) notify.Notifier {
	if cfg.Mail.Enabled {
		return notify.NewSMTPNotifier(cfg.Mail, cfg.OTP.TTL, logger)
	}
	logger.Warn().Msg("mail disabled, otp codes are written to the log")
	return notify.NewLogNotifier(logger)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}

	db.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
