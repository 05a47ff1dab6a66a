package validation

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// MaskEmail keeps the first and last character of the local part:
// "tomas@example.com" becomes "t***s@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := []rune(email[:at]), email[at:]
	if len(local) == 1 {
		return string(local) + "***" + domain
	}
	return string(local[0]) + "***" + string(local[len(local)-1]) + domain
}
