package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var defaultParams = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

var ErrMalformedHash = errors.New("malformed password hash")

// dummyHash is compared against when the user does not exist so that both
// branches of a login cost the same.
var dummyHash, _ = HashPassword("not-a-real-password")

func HashPassword(password string) ([]byte, error) {
	return HashPasswordWithParams(password, defaultParams)
}

func HashPasswordWithParams(password string, params Argon2Params) ([]byte, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)

	encoded := base64.RawStdEncoding.EncodeToString(hash)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)

	result := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Time, params.Threads, encodedSalt, encoded)

	return []byte(result), nil
}

// VerifyPassword checks password against an argon2id hash. Hashes with a
// bcrypt prefix were written by the previous system and are still accepted.
func VerifyPassword(password string, encodedHash []byte) (bool, error) {
	if len(encodedHash) == 0 {
		return false, ErrMalformedHash
	}
	if isBcrypt(encodedHash) {
		err := bcrypt.CompareHashAndPassword(encodedHash, []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("compare bcrypt: %w", err)
		}
		return true, nil
	}

	parts := strings.Split(string(encodedHash), "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return false, ErrMalformedHash
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(hash)))

	if subtle.ConstantTimeCompare(hash, computed) == 1 {
		return true, nil
	}
	return false, nil
}

// BurnPasswordCheck spends the same work as a real verification.
func BurnPasswordCheck(password string) {
	_, _ = VerifyPassword(password, dummyHash)
}

func isBcrypt(hash []byte) bool {
	return len(hash) > 4 && hash[0] == '$' && hash[1] == '2'
}

const passwordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// Password rule messages returned to the client.
const (
	RuleMinLength = "Debe tener al menos 8 caracteres"
	RuleDigit     = "Debe incluir al menos 1 número"
	RuleUpper     = "Debe incluir al menos 1 mayúscula"
	RuleLower     = "Debe incluir al menos 1 minúscula"
	RuleSymbol    = "Debe incluir al menos 1 caracter especial (!@#$%^&*...)"
)

// ValidatePasswordStrength returns every rule the password breaks, in a
// stable order. An empty result means the password is acceptable.
func ValidatePasswordStrength(password string) []string {
	var hasDigit, hasUpper, hasLower, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	var violations []string
	if utf8.RuneCountInString(password) < 8 {
		violations = append(violations, RuleMinLength)
	}
	if !hasDigit {
		violations = append(violations, RuleDigit)
	}
	if !hasUpper {
		violations = append(violations, RuleUpper)
	}
	if !hasLower {
		violations = append(violations, RuleLower)
	}
	if !hasSymbol {
		violations = append(violations, RuleSymbol)
	}
	return violations
}
