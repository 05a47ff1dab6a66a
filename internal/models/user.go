package models

import "time"

type UserRole string

const (
	UserRoleCustomer  UserRole = "customer"
	UserRoleAdmin     UserRole = "admin"
	UserRoleDeveloper UserRole = "developer"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleCustomer, UserRoleAdmin, UserRoleDeveloper:
		return true
	}
	return false
}

// User is the credential record. Email and PasswordHash stay nil until the
// first-login setup finishes.
type User struct {
	ID                    string
	Username              string
	Email                 *string
	PasswordHash          []byte
	Role                  UserRole
	PasswordSetupRequired bool
	OTPAttempts           int
	OTPBlockedUntil       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (u User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// BlockedFor reports how long OTP operations stay locked for the user.
// A block that ends at or before now is not active.
func (u User) BlockedFor(now time.Time) time.Duration {
	if u.OTPBlockedUntil == nil || !u.OTPBlockedUntil.After(now) {
		return 0
	}
	return u.OTPBlockedUntil.Sub(now)
}
