package service

import (
	"context"
	"time"

	"pancomido/auth/internal/models"
	"pancomido/auth/internal/repository"
)

// UserStore is the credential store as the auth flow sees it.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	SetEmail(ctx context.Context, id string, email string) error
	CompleteSetup(ctx context.Context, id string, passwordHash []byte) error
	RegisterOTPFailure(ctx context.Context, id string, maxAttempts int, blockUntil time.Time) (repository.OTPFailure, error)
	ResetOTPAttempts(ctx context.Context, id string) error
}

type OTPTokenStore interface {
	Replace(ctx context.Context, token models.OTPToken) error
	FindActive(ctx context.Context, userID string, purpose models.OTPPurpose, now time.Time) (models.OTPToken, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
}

type DeviceStore interface {
	Create(ctx context.Context, device models.TrustedDevice) error
	FindActive(ctx context.Context, userID string, tokenHash []byte, now time.Time) (models.TrustedDevice, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.TrustedDevice, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

var (
	_ UserStore     = (*repository.UserRepository)(nil)
	_ OTPTokenStore = (*repository.OTPTokenRepository)(nil)
	_ DeviceStore   = (*repository.TrustedDeviceRepository)(nil)
)
