package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/security"
)

const tempPassword = "dev2026!Temp"

type authHarness struct {
	svc      *AuthService
	users    *memUsers
	otps     *memOTPTokens
	devices  *memDevices
	notifier *recordingNotifier
	issuer   *security.TokenIssuer
	clock    *testClock
	cfg      *config.AppConfig
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTSecret:         "test-jwt-secret",
			SessionTTL:        24 * time.Hour,
			SetupOTPTokenTTL:  10 * time.Minute,
			PasswordSetupTTL:  10 * time.Minute,
			LoginOTPTokenTTL:  10 * time.Minute,
			DeviceTokenSecret: "test-device-secret",
		},
		OTP: config.OTPConfig{
			TTL:           5 * time.Minute,
			MaxAttempts:   3,
			BlockDuration: 15 * time.Minute,
			BcryptCost:    bcrypt.MinCost,
			ResendBase:    30 * time.Second,
			ResendMax:     5 * time.Minute,
		},
		Device: config.DeviceConfig{
			TrustTTL:   30 * 24 * time.Hour,
			CookieName: "trusted_device",
			CookiePath: "/api/auth",
		},
		Auth: config.AuthConfig{StageSetupEmail: true},
	}
}

func newAuthHarness(t *testing.T, cfg *config.AppConfig) *authHarness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	h := &authHarness{
		users:    newMemUsers(),
		otps:     &memOTPTokens{},
		devices:  &memDevices{},
		notifier: &recordingNotifier{},
		clock:    newTestClock(),
		cfg:      cfg,
	}
	h.issuer = security.NewTokenIssuer(cfg.Security.JWTSecret, h.clock.Now)
	otp := NewOTPService(h.otps, h.users, cfg.OTP, h.clock.Now)
	devices := NewDeviceService(h.devices, cfg.Security.DeviceTokenSecret, cfg.Device.TrustTTL, h.clock.Now)
	h.svc = NewAuthService(h.users, otp, devices, h.issuer, h.notifier, cfg, zerolog.Nop())
	return h
}

func (h *authHarness) seedSetupUser(id, username string) models.User {
	return h.users.seed(models.User{
		ID:                    id,
		Username:              username,
		PasswordHash:          mustBcrypt(tempPassword),
		Role:                  models.UserRoleDeveloper,
		PasswordSetupRequired: true,
	})
}

func (h *authHarness) seedActiveUser(id, username, email, password string) models.User {
	return h.users.seed(models.User{
		ID:           id,
		Username:     username,
		Email:        &email,
		PasswordHash: mustBcrypt(password),
		Role:         models.UserRoleAdmin,
	})
}

// startLogin logs in and returns the pending token and the emailed code.
func (h *authHarness) startLogin(t *testing.T, username, password, deviceToken string) (string, string) {
	t.Helper()
	res, err := h.svc.Login(context.Background(), LoginInput{Username: username, Password: password, DeviceToken: deviceToken})
	require.NoError(t, err)
	require.Equal(t, LoginOTPRequired, res.Outcome)
	sent := h.notifier.last()
	require.Equal(t, models.OTPPurposeLogin, sent.Purpose)
	return res.OTPPendingToken, sent.Code
}

func asAuthError(t *testing.T, err error) *AuthError {
	t.Helper()
	require.Error(t, err)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "expected *AuthError, got %T", err)
	return authErr
}

func wrongCode(code string) string {
	if code == "11111111" {
		return "22222222"
	}
	return "11111111"
}

func TestFirstLoginSetupThenLogin(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedSetupUser("u-dev", "dev")

	res, err := h.svc.Login(ctx, LoginInput{Username: "dev", Password: tempPassword})
	require.NoError(t, err)
	assert.Equal(t, LoginSetupRequired, res.Outcome)
	assert.Empty(t, res.Token)
	assert.Zero(t, h.notifier.count())

	setup, err := h.svc.InitiateSetup(ctx, "dev", "Dev@LaPancomido.cl")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.SetupToken)
	assert.Equal(t, 5*time.Minute, setup.ExpiresIn)

	sent := h.notifier.last()
	assert.Equal(t, "dev@lapancomido.cl", sent.Address)
	assert.Equal(t, models.OTPPurposeSetup, sent.Purpose)
	assert.Empty(t, h.users.get(user.ID).EmailAddress(), "email is staged until the code is verified")

	_, err = h.svc.VerifySetupOTP(ctx, setup.SetupToken, "1234")
	assert.Equal(t, KindMalformedCode, asAuthError(t, err).Kind)

	passwordToken, err := h.svc.VerifySetupOTP(ctx, setup.SetupToken, sent.Code)
	require.NoError(t, err)
	assert.Equal(t, "dev@lapancomido.cl", h.users.get(user.ID).EmailAddress())

	require.NoError(t, h.svc.CompleteSetup(ctx, passwordToken, "Pancomido#2026", "Pancomido#2026"))
	stored := h.users.get(user.ID)
	assert.False(t, stored.PasswordSetupRequired)
	ok, err := security.VerifyPassword("Pancomido#2026", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.Login(ctx, LoginInput{Username: "dev", Password: tempPassword})
	assert.Equal(t, KindInvalidCredentials, asAuthError(t, err).Kind)

	res, err = h.svc.Login(ctx, LoginInput{Username: "dev", Password: "Pancomido#2026"})
	require.NoError(t, err)
	require.Equal(t, LoginOTPRequired, res.Outcome)
	assert.Equal(t, "d***v@lapancomido.cl", res.MaskedEmail)

	verified, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{
		PendingToken: res.OTPPendingToken,
		Code:         h.notifier.last().Code,
	})
	require.NoError(t, err)
	assert.False(t, verified.DeviceTrusted)

	claims, err := h.svc.ParseSession(verified.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "developer", claims.Role)
	assert.Equal(t, "dev@lapancomido.cl", claims.Email)
}

func TestCompleteSetupTokenCannotBeReplayed(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedSetupUser("u-dev", "dev")

	setup, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	passwordToken, err := h.svc.VerifySetupOTP(ctx, setup.SetupToken, h.notifier.last().Code)
	require.NoError(t, err)

	require.NoError(t, h.svc.CompleteSetup(ctx, passwordToken, "Pancomido#2026", "Pancomido#2026"))
	err = h.svc.CompleteSetup(ctx, passwordToken, "Otra#Clave2026", "Otra#Clave2026")
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)
}

func TestLoginHidesWhichPartWasWrong(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	_, unknownErr := h.svc.Login(ctx, LoginInput{Username: "nadie", Password: "Secreta#2026"})
	_, wrongErr := h.svc.Login(ctx, LoginInput{Username: "maria", Password: "otra"})
	_, emptyErr := h.svc.Login(ctx, LoginInput{Username: "maria"})

	for _, err := range []error{unknownErr, wrongErr, emptyErr} {
		authErr := asAuthError(t, err)
		assert.Equal(t, KindInvalidCredentials, authErr.Kind)
		assert.Equal(t, "Credenciales inválidas", authErr.Message)
	}

	_, err := h.svc.Login(ctx, LoginInput{Username: "  ", Password: "x"})
	assert.Equal(t, KindInvalidInput, asAuthError(t, err).Kind)
}

func TestLoginOTPLockoutAfterThreeFailures(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	bad := wrongCode(code)

	_, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: bad})
	first := asAuthError(t, err)
	assert.Equal(t, KindCodeIncorrect, first.Kind)
	assert.Equal(t, 2, first.AttemptsRemaining)
	assert.Equal(t, "Código incorrecto, te quedan 2 intentos", first.Message)
	assert.Equal(t, "Revisa tu bandeja de spam", first.Hint)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: bad})
	second := asAuthError(t, err)
	assert.Equal(t, 1, second.AttemptsRemaining)
	assert.Equal(t, "Código incorrecto, te queda 1 intento", second.Message)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: bad})
	third := asAuthError(t, err)
	assert.Equal(t, KindBlocked, third.Kind)
	assert.Equal(t, 15, third.WaitMinutes)
	assert.Equal(t, "Código incorrecto. Has sido bloqueado por 15 minutos.", third.Message)

	stored := h.users.get(user.ID)
	assert.Zero(t, stored.OTPAttempts)
	require.NotNil(t, stored.OTPBlockedUntil)
	assert.Equal(t, h.clock.Now().Add(15*time.Minute), *stored.OTPBlockedUntil)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	assert.Equal(t, KindTooManyAttempts, asAuthError(t, err).Kind, "correct code is refused while blocked")

	_, err = h.svc.Login(ctx, LoginInput{Username: "maria", Password: "Secreta#2026"})
	blocked := asAuthError(t, err)
	assert.Equal(t, KindTooManyAttempts, blocked.Kind)
	assert.Equal(t, 15, blocked.WaitMinutes)
	assert.Equal(t, "Demasiados intentos. Espera 15 minutos.", blocked.Message)

	_, err = h.svc.ResendOTP(ctx, pending)
	assert.Equal(t, KindTooManyAttempts, asAuthError(t, err).Kind)

	h.clock.Advance(15*time.Minute - time.Second)
	_, err = h.svc.Login(ctx, LoginInput{Username: "maria", Password: "Secreta#2026"})
	lastSecond := asAuthError(t, err)
	assert.Equal(t, 1, lastSecond.WaitMinutes)
	assert.Equal(t, "Demasiados intentos. Espera 1 minuto.", lastSecond.Message)

	h.clock.Advance(time.Second)
	h.startLogin(t, "maria", "Secreta#2026", "")
}

func TestSetupOTPLockoutThenRestart(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedSetupUser("u-dev", "dev")

	setup, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	bad := wrongCode(h.notifier.last().Code)

	_, err = h.svc.VerifySetupOTP(ctx, setup.SetupToken, bad)
	assert.Equal(t, KindCodeIncorrect, asAuthError(t, err).Kind)
	_, err = h.svc.VerifySetupOTP(ctx, setup.SetupToken, bad)
	assert.Equal(t, KindCodeIncorrect, asAuthError(t, err).Kind)
	_, err = h.svc.VerifySetupOTP(ctx, setup.SetupToken, bad)
	blocked := asAuthError(t, err)
	assert.Equal(t, KindBlocked, blocked.Kind)
	assert.Equal(t, 15, blocked.WaitMinutes)
	assert.Nil(t, h.users.get(user.ID).Email, "staged email is not written on failure")

	_, err = h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	assert.Equal(t, KindTooManyAttempts, asAuthError(t, err).Kind)

	h.clock.Advance(15 * time.Minute)

	_, err = h.svc.VerifySetupOTP(ctx, setup.SetupToken, bad)
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)

	restarted, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	passwordToken, err := h.svc.VerifySetupOTP(ctx, restarted.SetupToken, h.notifier.last().Code)
	require.NoError(t, err)
	assert.NotEmpty(t, passwordToken)

	stored := h.users.get(user.ID)
	require.NotNil(t, stored.Email)
	assert.Equal(t, "dev@lapancomido.cl", *stored.Email)
	assert.Zero(t, stored.OTPAttempts)
}

func TestVerifyAtBlockBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.OTP.TTL = 30 * time.Minute
	cfg.Security.LoginOTPTokenTTL = 30 * time.Minute
	h := newAuthHarness(t, cfg)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	for i := 0; i < 3; i++ {
		_, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: wrongCode(code)})
		require.Error(t, err)
	}

	h.clock.Advance(15*time.Minute - time.Second)
	_, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	assert.Equal(t, KindTooManyAttempts, asAuthError(t, err).Kind)

	h.clock.Advance(2 * time.Second)
	res, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestSuccessfulVerifyResetsAttempts(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	_, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: wrongCode(code)})
	require.Error(t, err)
	assert.Equal(t, 1, h.users.get(user.ID).OTPAttempts)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	require.NoError(t, err)
	assert.Zero(t, h.users.get(user.ID).OTPAttempts)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	assert.Equal(t, KindCodeExpired, asAuthError(t, err).Kind, "a code is consumed once")
}

func TestCodeExpiresAfterTTL(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	h.clock.Advance(5 * time.Minute)

	_, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code})
	authErr := asAuthError(t, err)
	assert.Equal(t, KindCodeExpired, authErr.Kind)
	assert.Equal(t, "Código expirado. Solicita uno nuevo.", authErr.Message)
}

func TestResendInvalidatesPreviousCode(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, firstCode := h.startLogin(t, "maria", "Secreta#2026", "")

	resent, err := h.svc.ResendOTP(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, models.OTPPurposeLogin, resent.Purpose)
	assert.Equal(t, "m***a@example.com", resent.MaskedEmail)
	assert.Equal(t, 60*time.Second, resent.NextResendIn)
	assert.Equal(t, 1, h.otps.unused(user.ID, models.OTPPurposeLogin))

	secondCode := h.notifier.last().Code
	if firstCode == secondCode {
		t.Skip("generator repeated a code")
	}

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: resent.PendingToken, Code: firstCode})
	assert.Equal(t, KindCodeIncorrect, asAuthError(t, err).Kind)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: resent.PendingToken, Code: secondCode})
	require.NoError(t, err)
}

func TestResendCooldownNeverDecreases(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, _ := h.startLogin(t, "maria", "Secreta#2026", "")

	var got []time.Duration
	for i := 0; i < 6; i++ {
		res, err := h.svc.ResendOTP(ctx, pending)
		require.NoError(t, err)
		got = append(got, res.NextResendIn)
		pending = res.PendingToken
	}

	assert.Equal(t, []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		300 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}, got)

	parsed, err := h.issuer.ParseLoginOTP(pending)
	require.NoError(t, err)
	assert.Equal(t, 6, parsed.ResendCount)
}

func TestResendSetupCodeKeepsStagedEmail(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedSetupUser("u-dev", "dev")

	setup, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)

	resent, err := h.svc.ResendOTP(ctx, setup.SetupToken)
	require.NoError(t, err)
	assert.Equal(t, models.OTPPurposeSetup, resent.Purpose)
	assert.Equal(t, "dev@lapancomido.cl", h.notifier.last().Address)

	_, err = h.svc.VerifySetupOTP(ctx, resent.PendingToken, h.notifier.last().Code)
	require.NoError(t, err)
}

func TestTrustedDeviceSkipsOTPUntilLogoutAll(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	verified, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{
		PendingToken: pending,
		Code:         code,
		TrustDevice:  true,
		UserAgent:    "Mozilla/5.0",
		IPAddress:    "203.0.113.7",
	})
	require.NoError(t, err)
	require.True(t, verified.DeviceTrusted)
	assert.Len(t, verified.Device.Token, 43)
	assert.Equal(t, h.clock.Now().Add(30*24*time.Hour), verified.Device.ExpiresAt)

	devices, err := h.svc.TrustedDevices(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.NotEqual(t, []byte(verified.Device.Token), devices[0].TokenHash)
	assert.Equal(t, "203.0.113.7", devices[0].IPAddress)

	sentBefore := h.notifier.count()
	res, err := h.svc.Login(ctx, LoginInput{Username: "maria", Password: "Secreta#2026", DeviceToken: verified.Device.Token})
	require.NoError(t, err)
	assert.Equal(t, LoginAuthenticated, res.Outcome)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, sentBefore, h.notifier.count())

	revoked, err := h.svc.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	h.startLogin(t, "maria", "Secreta#2026", verified.Device.Token)
}

func TestTrustedDeviceIsBoundToItsUser(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")
	h.seedActiveUser("u-2", "jose", "jose@example.com", "Secreta#2027")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	verified, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code, TrustDevice: true})
	require.NoError(t, err)

	h.startLogin(t, "jose", "Secreta#2027", verified.Device.Token)
}

func TestTrustedDeviceExpires(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	verified, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code, TrustDevice: true})
	require.NoError(t, err)

	h.clock.Advance(30 * 24 * time.Hour)
	h.startLogin(t, "maria", "Secreta#2026", verified.Device.Token)
}

func TestTrustDeviceFailureStillSignsIn(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	h.devices.failing = true

	verified, err := h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: code, TrustDevice: true})
	require.NoError(t, err)
	assert.NotEmpty(t, verified.Token)
	assert.False(t, verified.DeviceTrusted)
}

func TestPendingTokensOnlyWorkForTheirStep(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedSetupUser("u-dev", "dev")
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	setup, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	setupCode := h.notifier.last().Code

	loginPending, loginCode := h.startLogin(t, "maria", "Secreta#2026", "")

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: setup.SetupToken, Code: setupCode})
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)

	_, err = h.svc.VerifySetupOTP(ctx, loginPending, loginCode)
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)

	err = h.svc.CompleteSetup(ctx, setup.SetupToken, "Pancomido#2026", "Pancomido#2026")
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)

	passwordToken, err := h.svc.VerifySetupOTP(ctx, setup.SetupToken, setupCode)
	require.NoError(t, err)
	_, err = h.svc.ResendOTP(ctx, passwordToken)
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: "garbage", Code: loginCode})
	assert.Equal(t, KindTokenExpiredOrInvalid, asAuthError(t, err).Kind)
}

func TestCompleteSetupRejectsBadPasswords(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedSetupUser("u-dev", "dev")

	setup, err := h.svc.InitiateSetup(ctx, "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	passwordToken, err := h.svc.VerifySetupOTP(ctx, setup.SetupToken, h.notifier.last().Code)
	require.NoError(t, err)

	err = h.svc.CompleteSetup(ctx, passwordToken, "Pancomido#2026", "Pancomido#2025")
	mismatch := asAuthError(t, err)
	assert.Equal(t, KindPasswordMismatch, mismatch.Kind)
	assert.Equal(t, "Las contraseñas no coinciden", mismatch.Message)

	err = h.svc.CompleteSetup(ctx, passwordToken, "abc", "abc")
	weak := asAuthError(t, err)
	assert.Equal(t, KindWeakPassword, weak.Kind)
	assert.Equal(t, []string{
		security.RuleMinLength,
		security.RuleDigit,
		security.RuleUpper,
		security.RuleSymbol,
	}, weak.Details)

	assert.True(t, h.users.get(user.ID).PasswordSetupRequired)
}

func TestInitiateSetupPreconditions(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedSetupUser("u-dev", "dev")
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	_, err := h.svc.InitiateSetup(ctx, "maria", "otra@example.com")
	assert.Equal(t, KindSetupNotAvailable, asAuthError(t, err).Kind)

	_, err = h.svc.InitiateSetup(ctx, "nadie", "otra@example.com")
	assert.Equal(t, KindSetupNotAvailable, asAuthError(t, err).Kind)

	_, err = h.svc.InitiateSetup(ctx, "dev", "MARIA@example.com")
	inUse := asAuthError(t, err)
	assert.Equal(t, KindEmailInUse, inUse.Kind)
	assert.Equal(t, "Este email ya está en uso", inUse.Message)

	_, err = h.svc.InitiateSetup(ctx, "dev", "no-es-email")
	assert.Equal(t, KindInvalidInput, asAuthError(t, err).Kind)

	_, err = h.svc.InitiateSetup(ctx, "dev", "")
	assert.Equal(t, KindInvalidInput, asAuthError(t, err).Kind)

	assert.Zero(t, h.notifier.count())
}

func TestInitiateSetupWritesEmailWhenNotStaged(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.StageSetupEmail = false
	h := newAuthHarness(t, cfg)
	user := h.seedSetupUser("u-dev", "dev")

	_, err := h.svc.InitiateSetup(context.Background(), "dev", "dev@lapancomido.cl")
	require.NoError(t, err)
	assert.Equal(t, "dev@lapancomido.cl", h.users.get(user.ID).EmailAddress())
}

func TestNotificationFailureReturnsPendingToken(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	h.notifier.err = errors.New("smtp down")
	_, err := h.svc.Login(ctx, LoginInput{Username: "maria", Password: "Secreta#2026"})
	failed := asAuthError(t, err)
	assert.Equal(t, KindNotificationFailed, failed.Kind)
	require.NotEmpty(t, failed.PendingToken)

	h.notifier.err = nil
	resent, err := h.svc.ResendOTP(ctx, failed.PendingToken)
	require.NoError(t, err)

	_, err = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: resent.PendingToken, Code: h.notifier.last().Code})
	require.NoError(t, err)
}

func TestClearLockout(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	user := h.seedActiveUser("u-1", "maria", "maria@example.com", "Secreta#2026")

	pending, code := h.startLogin(t, "maria", "Secreta#2026", "")
	for i := 0; i < 3; i++ {
		_, _ = h.svc.VerifyLoginOTP(ctx, VerifyLoginInput{PendingToken: pending, Code: wrongCode(code)})
	}
	require.NotNil(t, h.users.get(user.ID).OTPBlockedUntil)

	require.NoError(t, h.svc.ClearLockout(ctx, user.ID))
	assert.Nil(t, h.users.get(user.ID).OTPBlockedUntil)
	h.startLogin(t, "maria", "Secreta#2026", "")

	err := h.svc.ClearLockout(ctx, "missing")
	assert.Equal(t, KindNotFound, asAuthError(t, err).Kind)
}

func TestLogoutAllRequiresUser(t *testing.T) {
	h := newAuthHarness(t, nil)
	_, err := h.svc.LogoutAll(context.Background(), "")
	assert.Equal(t, KindUnauthenticated, asAuthError(t, err).Kind)
}
