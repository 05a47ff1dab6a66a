package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/database"
	"pancomido/auth/internal/ids"
	"pancomido/auth/internal/log"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/security"
)

// provision creates a user, or resets an existing one, with a temporary
// password. The user must finish the first-login setup before signing in.
func main() {
	username := flag.String("username", "", "username to create or reset")
	role := flag.String("role", string(models.UserRoleAdmin), "customer, admin or developer")
	tempPassword := flag.String("temp-password", "", "temporary password (generated when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := log.New(cfg.Environment, "auth-provision")

	name := strings.TrimSpace(*username)
	userRole := models.UserRole(*role)
	if name == "" || !userRole.Valid() {
		flag.Usage()
		os.Exit(2)
	}

	password := *tempPassword
	if password == "" {
		if password, err = security.GenerateTempPassword(); err != nil {
			logger.Fatal().Err(err).Msg("generate temp password")
		}
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		logger.Fatal().Err(err).Msg("hash temp password")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	user, err := repository.NewUserRepository(pool).Upsert(ctx, models.User{
		ID:                    ids.New(),
		Username:              name,
		PasswordHash:          hash,
		Role:                  userRole,
		PasswordSetupRequired: true,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("username", name).Msg("provision user")
	}

	logger.Info().Str("user_id", user.ID).Str("username", user.Username).Str("role", string(user.Role)).Msg("user provisioned")
	fmt.Printf("username: %s\ntemporary password: %s\n", user.Username, password)
}
