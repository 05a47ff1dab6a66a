package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pancomido/auth/internal/ids"
)

// ErrInvalidToken is returned for every verification failure: bad
// signature, wrong algorithm, expiry, or a wrong purpose.
var ErrInvalidToken = errors.New("invalid token")

type SessionClaims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type SessionSubject struct {
	UserID   string
	Role     string
	Email    string
	Username string
}

// TokenIssuer signs session and pending-step tokens with one HMAC key.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), now: now}
}

func (i *TokenIssuer) IssueSession(subject SessionSubject, ttl time.Duration) (string, error) {
	now := i.now()
	claims := SessionClaims{
		UserID:   subject.UserID,
		Role:     subject.Role,
		Email:    subject.Email,
		Username: subject.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject.UserID,
			ID:        ids.New(),
		},
	}
	return i.sign(claims)
}

func (i *TokenIssuer) ParseSession(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := i.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *TokenIssuer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) parse(tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
