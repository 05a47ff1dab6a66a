package models

import "time"

type OTPPurpose string

const (
	OTPPurposeSetup OTPPurpose = "setup"
	OTPPurposeLogin OTPPurpose = "login"
)

type OTPToken struct {
	ID         string
	UserID     string
	HashedCode []byte
	Purpose    OTPPurpose
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}
