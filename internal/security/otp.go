package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const (
	otpMin = 10_000_000
	otpMax = 99_999_999
)

var otpFormat = regexp.MustCompile(`^\d{8}$`)

// GenerateOTP draws an 8-digit code uniformly from [otpMin, otpMax].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()+otpMin), nil
}

func ValidOTPFormat(code string) bool {
	return otpFormat.MatchString(code)
}

func HashOTP(code string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}
	return hash, nil
}

func CompareOTP(hash []byte, code string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(code))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("compare otp: %w", err)
}
