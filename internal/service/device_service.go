package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pancomido/auth/internal/ids"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/security"
)

type DeviceService struct {
	devices DeviceStore
	secret  string
	ttl     time.Duration
	now     func() time.Time
}

func NewDeviceService(devices DeviceStore, secret string, ttl time.Duration, now func() time.Time) *DeviceService {
	if now == nil {
		now = time.Now
	}
	return &DeviceService{
		devices: devices,
		secret:  secret,
		ttl:     ttl,
		now:     now,
	}
}

// IsTrusted reports whether token is a live trust grant for exactly this
// user. Lookups are keyed on (user, hash), so another user's token fails.
func (s *DeviceService) IsTrusted(ctx context.Context, userID string, token string) (bool, error) {
	if token == "" || userID == "" {
		return false, nil
	}
	hash := security.HashDeviceToken(s.secret, token)
	_, err := s.devices.FindActive(ctx, userID, hash, s.now())
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find trusted device: %w", err)
	}
	return true, nil
}

type TrustGrant struct {
	Token     string
	ExpiresAt time.Time
}

func (s *DeviceService) Trust(ctx context.Context, userID string, userAgent string, ipAddress string) (TrustGrant, error) {
	token, hash, err := security.GenerateDeviceToken(s.secret)
	if err != nil {
		return TrustGrant{}, err
	}

	now := s.now()
	device := models.TrustedDevice{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hash,
		UserAgent: truncate(userAgent, 512),
		IPAddress: ipAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return TrustGrant{}, fmt.Errorf("store trusted device: %w", err)
	}
	return TrustGrant{Token: token, ExpiresAt: device.ExpiresAt}, nil
}

func (s *DeviceService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.devices.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke trusted devices: %w", err)
	}
	return n, nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	devices, err := s.devices.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	return devices, nil
}

func (s *DeviceService) TTL() time.Duration {
	return s.ttl
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
