package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const deviceTokenBytes = 32

// GenerateDeviceToken returns an opaque trusted-device token and its keyed
// hash. Only the hash is stored.
func GenerateDeviceToken(secret string) (string, []byte, error) {
	buf := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate device token: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, HashDeviceToken(secret, token), nil
}

func HashDeviceToken(secret string, token string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// GenerateTempPassword returns a random password for provisioned accounts.
func GenerateTempPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
