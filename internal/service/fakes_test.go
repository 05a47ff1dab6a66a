package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pancomido/auth/internal/models"
	"pancomido/auth/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]models.User)}
}

func (m *memUsers) seed(u models.User) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return u
}

func (m *memUsers) get(id string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.EmailAddress() == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) SetEmail(_ context.Context, id string, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.ID != id && other.EmailAddress() == email {
			return repository.ErrEmailTaken
		}
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Email = &email
	m.users[id] = u
	return nil
}

func (m *memUsers) CompleteSetup(_ context.Context, id string, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordSetupRequired = false
	m.users[id] = u
	return nil
}

func (m *memUsers) RegisterOTPFailure(_ context.Context, id string, maxAttempts int, blockUntil time.Time) (repository.OTPFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.OTPFailure{}, repository.ErrUserNotFound
	}
	u.OTPAttempts++
	if u.OTPAttempts >= maxAttempts {
		u.OTPAttempts = 0
		until := blockUntil
		u.OTPBlockedUntil = &until
	}
	m.users[id] = u
	return repository.OTPFailure{
		Attempts:     u.OTPAttempts,
		Blocked:      u.OTPAttempts == 0,
		BlockedUntil: u.OTPBlockedUntil,
	}, nil
}

func (m *memUsers) ResetOTPAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.OTPAttempts = 0
	u.OTPBlockedUntil = nil
	m.users[id] = u
	return nil
}

type memOTPTokens struct {
	mu     sync.Mutex
	tokens []models.OTPToken
}

func (m *memOTPTokens) Replace(_ context.Context, token models.OTPToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tokens {
		t := &m.tokens[i]
		if t.UserID == token.UserID && t.Purpose == token.Purpose {
			t.Used = true
		}
	}
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *memOTPTokens) FindActive(_ context.Context, userID string, purpose models.OTPPurpose, now time.Time) (models.OTPToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.Used && t.ExpiresAt.After(now) {
			return t, nil
		}
	}
	return models.OTPToken{}, repository.ErrOTPNotFound
}

func (m *memOTPTokens) MarkUsed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tokens {
		if m.tokens[i].ID == id && !m.tokens[i].Used {
			m.tokens[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memOTPTokens) unused(userID string, purpose models.OTPPurpose) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.Used {
			n++
		}
	}
	return n
}

type memDevices struct {
	mu      sync.Mutex
	devices []models.TrustedDevice
	failing bool
}

func (m *memDevices) Create(_ context.Context, device models.TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("device store unavailable")
	}
	m.devices = append(m.devices, device)
	return nil
}

func (m *memDevices) FindActive(_ context.Context, userID string, tokenHash []byte, now time.Time) (models.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.UserID == userID && bytes.Equal(d.TokenHash, tokenHash) && d.ExpiresAt.After(now) {
			return d, nil
		}
	}
	return models.TrustedDevice{}, repository.ErrDeviceNotFound
}

func (m *memDevices) ListActive(_ context.Context, userID string, now time.Time) ([]models.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrustedDevice
	for _, d := range m.devices {
		if d.UserID == userID && d.ExpiresAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDevices) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.devices[:0]
	var n int64
	for _, d := range m.devices {
		if d.UserID == userID {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.devices = kept
	return n, nil
}

type sentOTP struct {
	Address string
	Code    string
	Purpose models.OTPPurpose
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentOTP
	err  error
}

func (n *recordingNotifier) SendOTP(_ context.Context, address string, code string, purpose models.OTPPurpose) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentOTP{Address: address, Code: code, Purpose: purpose})
	return nil
}

func (n *recordingNotifier) last() sentOTP {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentOTP{}
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func mustBcrypt(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return hash
}
