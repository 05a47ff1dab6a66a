package service

import (
	"fmt"
	"math"
	"time"
)

type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindSetupNotAvailable     ErrorKind = "setup_not_available"
	KindEmailInUse            ErrorKind = "email_in_use"
	KindTooManyAttempts       ErrorKind = "too_many_attempts"
	KindBlocked               ErrorKind = "blocked"
	KindMalformedCode         ErrorKind = "malformed_code"
	KindTokenExpiredOrInvalid ErrorKind = "token_expired_or_invalid"
	KindCodeIncorrect         ErrorKind = "code_incorrect"
	KindCodeExpired           ErrorKind = "code_expired"
	KindPasswordMismatch      ErrorKind = "password_mismatch"
	KindWeakPassword          ErrorKind = "weak_password"
	KindNotificationFailed    ErrorKind = "notification_failed"
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindNotFound              ErrorKind = "not_found"
	KindInternal              ErrorKind = "internal"
)

// AuthError is the only error type the auth flow returns to handlers.
// Optional fields are set only for the kinds that use them.
type AuthError struct {
	Kind              ErrorKind
	Message           string
	Hint              string
	Details           []string
	AttemptsRemaining int
	WaitMinutes       int
	// PendingToken lets the caller resend after NotificationFailed.
	PendingToken string
	Err          error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(kind ErrorKind, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

func invalidInput(message string) *AuthError {
	return newAuthError(KindInvalidInput, message)
}

func invalidCredentials() *AuthError {
	return newAuthError(KindInvalidCredentials, "Credenciales inválidas")
}

func tokenExpiredOrInvalid(message string) *AuthError {
	return newAuthError(KindTokenExpiredOrInvalid, message)
}

func malformedCode() *AuthError {
	return newAuthError(KindMalformedCode, "Código debe ser de 8 dígitos")
}

// tooManyAttempts rounds the remaining block up to whole minutes.
func tooManyAttempts(remaining time.Duration) *AuthError {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &AuthError{
		Kind:        KindTooManyAttempts,
		Message:     fmt.Sprintf("Demasiados intentos. Espera %d %s.", minutes, plural(minutes, "minuto", "minutos")),
		WaitMinutes: minutes,
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
