package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/ids"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/security"
)

type VerifyOutcome int

const (
	OTPValid VerifyOutcome = iota
	OTPInvalid
	OTPJustBlocked
	OTPExpired
)

type VerifyResult struct {
	Outcome           VerifyOutcome
	AttemptsRemaining int
	BlockedUntil      time.Time
}

// OTPService owns code generation, hashing, matching and the lockout
// counter. It knows nothing about delivery.
type OTPService struct {
	tokens OTPTokenStore
	users  UserStore
	cfg    config.OTPConfig
	now    func() time.Time
}

func NewOTPService(tokens OTPTokenStore, users UserStore, cfg config.OTPConfig, now func() time.Time) *OTPService {
	if now == nil {
		now = time.Now
	}
	return &OTPService{
		tokens: tokens,
		users:  users,
		cfg:    cfg,
		now:    now,
	}
}

// Issue stores a fresh code for (userID, purpose), invalidating earlier
// ones, and returns the plaintext for delivery.
func (s *OTPService) Issue(ctx context.Context, userID string, purpose models.OTPPurpose) (string, error) {
	code, err := security.GenerateOTP()
	if err != nil {
		return "", err
	}
	hash, err := security.HashOTP(code, s.cfg.BcryptCost)
	if err != nil {
		return "", err
	}

	now := s.now()
	token := models.OTPToken{
		ID:         ids.New(),
		UserID:     userID,
		HashedCode: hash,
		Purpose:    purpose,
		ExpiresAt:  now.Add(s.cfg.TTL),
		CreatedAt:  now,
	}
	if err := s.tokens.Replace(ctx, token); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

func (s *OTPService) Verify(ctx context.Context, userID string, code string, purpose models.OTPPurpose) (VerifyResult, error) {
	now := s.now()
	token, err := s.tokens.FindActive(ctx, userID, purpose, now)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return VerifyResult{Outcome: OTPExpired}, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("find otp: %w", err)
	}

	ok, err := security.CompareOTP(token.HashedCode, code)
	if err != nil {
		return VerifyResult{}, err
	}

	if !ok {
		blockUntil := now.Add(s.cfg.BlockDuration)
		failure, err := s.users.RegisterOTPFailure(ctx, userID, s.cfg.MaxAttempts, blockUntil)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("record otp failure: %w", err)
		}
		if failure.Blocked {
			return VerifyResult{Outcome: OTPJustBlocked, BlockedUntil: blockUntil}, nil
		}
		return VerifyResult{
			Outcome:           OTPInvalid,
			AttemptsRemaining: s.cfg.MaxAttempts - failure.Attempts,
		}, nil
	}

	consumed, err := s.tokens.MarkUsed(ctx, token.ID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		return VerifyResult{Outcome: OTPExpired}, nil
	}

	if err := s.users.ResetOTPAttempts(ctx, userID); err != nil {
		return VerifyResult{}, fmt.Errorf("reset otp attempts: %w", err)
	}
	return VerifyResult{Outcome: OTPValid}, nil
}

// BlockedFor is the remaining lockout for user, zero when not blocked.
func (s *OTPService) BlockedFor(user models.User) time.Duration {
	return user.BlockedFor(s.now())
}

// NextResendIn is the client-side resend cooldown after resendCount
// resends: ResendBase doubled per resend, capped at ResendMax.
func (s *OTPService) NextResendIn(resendCount int) time.Duration {
	next := s.cfg.ResendBase
	for i := 0; i < resendCount && next < s.cfg.ResendMax; i++ {
		next *= 2
	}
	if next > s.cfg.ResendMax {
		next = s.cfg.ResendMax
	}
	return next
}

func (s *OTPService) TTL() time.Duration {
	return s.cfg.TTL
}

func (s *OTPService) BlockDuration() time.Duration {
	return s.cfg.BlockDuration
}
