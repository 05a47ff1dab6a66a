package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type PendingPurpose string

const (
	PurposeSetupOTP      PendingPurpose = "setup-otp"
	PurposePasswordSetup PendingPurpose = "password-setup"
	PurposeLoginOTP      PendingPurpose = "login-otp"
)

// pendingClaims is the wire form shared by every pending-step variant.
// Fields outside the decoded variant are ignored.
type pendingClaims struct {
	Purpose       PendingPurpose `json:"purpose"`
	UserID        string         `json:"userId"`
	Email         string         `json:"email,omitempty"`
	ResendCount   int            `json:"resendCount,omitempty"`
	EmailVerified bool           `json:"emailVerified,omitempty"`
	jwt.RegisteredClaims
}

type SetupOTPPending struct {
	UserID      string
	Email       string
	ResendCount int
}

type PasswordSetupPending struct {
	UserID        string
	EmailVerified bool
}

type LoginOTPPending struct {
	UserID      string
	ResendCount int
}

// OTPPending is a step that waits for an emailed code. Exactly one field
// is set.
type OTPPending struct {
	Setup *SetupOTPPending
	Login *LoginOTPPending
}

func (i *TokenIssuer) IssueSetupOTP(p SetupOTPPending, ttl time.Duration) (string, error) {
	return i.issuePending(pendingClaims{
		Purpose:     PurposeSetupOTP,
		UserID:      p.UserID,
		Email:       p.Email,
		ResendCount: p.ResendCount,
	}, ttl)
}

func (i *TokenIssuer) IssuePasswordSetup(p PasswordSetupPending, ttl time.Duration) (string, error) {
	return i.issuePending(pendingClaims{
		Purpose:       PurposePasswordSetup,
		UserID:        p.UserID,
		EmailVerified: p.EmailVerified,
	}, ttl)
}

func (i *TokenIssuer) IssueLoginOTP(p LoginOTPPending, ttl time.Duration) (string, error) {
	return i.issuePending(pendingClaims{
		Purpose:     PurposeLoginOTP,
		UserID:      p.UserID,
		ResendCount: p.ResendCount,
	}, ttl)
}

func (i *TokenIssuer) ParseSetupOTP(tokenStr string) (SetupOTPPending, error) {
	c, err := i.parsePending(tokenStr, PurposeSetupOTP)
	if err != nil {
		return SetupOTPPending{}, err
	}
	return SetupOTPPending{UserID: c.UserID, Email: c.Email, ResendCount: c.ResendCount}, nil
}

func (i *TokenIssuer) ParsePasswordSetup(tokenStr string) (PasswordSetupPending, error) {
	c, err := i.parsePending(tokenStr, PurposePasswordSetup)
	if err != nil {
		return PasswordSetupPending{}, err
	}
	return PasswordSetupPending{UserID: c.UserID, EmailVerified: c.EmailVerified}, nil
}

func (i *TokenIssuer) ParseLoginOTP(tokenStr string) (LoginOTPPending, error) {
	c, err := i.parsePending(tokenStr, PurposeLoginOTP)
	if err != nil {
		return LoginOTPPending{}, err
	}
	return LoginOTPPending{UserID: c.UserID, ResendCount: c.ResendCount}, nil
}

// ParseOTPPending accepts either code-waiting step and reports which one it is.
func (i *TokenIssuer) ParseOTPPending(tokenStr string) (OTPPending, error) {
	c, err := i.parsePending(tokenStr, PurposeSetupOTP, PurposeLoginOTP)
	if err != nil {
		return OTPPending{}, err
	}
	if c.Purpose == PurposeSetupOTP {
		return OTPPending{Setup: &SetupOTPPending{UserID: c.UserID, Email: c.Email, ResendCount: c.ResendCount}}, nil
	}
	return OTPPending{Login: &LoginOTPPending{UserID: c.UserID, ResendCount: c.ResendCount}}, nil
}

func (i *TokenIssuer) issuePending(c pendingClaims, ttl time.Duration) (string, error) {
	now := i.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Subject:   c.UserID,
	}
	return i.sign(c)
}

// parsePending checks signature and expiry, then the purpose tag. No other
// claim is read before the tag matches.
func (i *TokenIssuer) parsePending(tokenStr string, accepted ...PendingPurpose) (*pendingClaims, error) {
	c := &pendingClaims{}
	if err := i.parse(tokenStr, c); err != nil {
		return nil, err
	}
	for _, p := range accepted {
		if c.Purpose == p {
			if c.UserID == "" {
				return nil, ErrInvalidToken
			}
			return c, nil
		}
	}
	return nil, ErrInvalidToken
}
