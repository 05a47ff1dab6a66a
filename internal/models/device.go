package models

import "time"

type TrustedDevice struct {
	ID        string
	UserID    string
	TokenHash []byte
	UserAgent string
	IPAddress string
	CreatedAt time.Time
	ExpiresAt time.Time
}
