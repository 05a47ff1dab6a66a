package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/notify"
	"pancomido/auth/internal/repository"
	"pancomido/auth/internal/security"
	"pancomido/auth/internal/validation"
)

const spamHint = "Revisa tu bandeja de spam"

// AuthService drives login, first-login setup, OTP verification, device
// trust and global logout. It keeps no state between calls: progress
// travels in signed pending tokens.
type AuthService struct {
	users    UserStore
	otp      *OTPService
	devices  *DeviceService
	tokens   *security.TokenIssuer
	notifier notify.Notifier
	cfg      *config.AppConfig
	log      zerolog.Logger
}

func NewAuthService(
	users UserStore,
	otp *OTPService,
	devices *DeviceService,
	tokens *security.TokenIssuer,
	notifier notify.Notifier,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		otp:      otp,
		devices:  devices,
		tokens:   tokens,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

type LoginOutcome int

const (
	LoginAuthenticated LoginOutcome = iota
	LoginSetupRequired
	LoginOTPRequired
)

type LoginInput struct {
	Username    string
	Password    string
	DeviceToken string
}

type LoginResult struct {
	Outcome LoginOutcome
	// Authenticated
	Token string
	User  models.User
	// OTPRequired
	OTPPendingToken string
	MaskedEmail     string
	ExpiresIn       time.Duration
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return LoginResult{}, invalidInput("Username requerido")
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			security.BurnPasswordCheck(input.Password)
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, s.internal(err, "find user")
	}

	if input.Password == "" || len(user.PasswordHash) == 0 {
		security.BurnPasswordCheck(input.Password)
		return LoginResult{}, invalidCredentials()
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password hash unreadable")
		return LoginResult{}, invalidCredentials()
	}
	if !ok {
		return LoginResult{}, invalidCredentials()
	}

	if user.PasswordSetupRequired {
		return LoginResult{Outcome: LoginSetupRequired, User: user}, nil
	}

	trusted, err := s.devices.IsTrusted(ctx, user.ID, input.DeviceToken)
	if err != nil {
		return LoginResult{}, s.internal(err, "check trusted device")
	}
	if trusted {
		token, err := s.issueSession(user)
		if err != nil {
			return LoginResult{}, s.internal(err, "issue session")
		}
		s.log.Info().Str("user_id", user.ID).Msg("login via trusted device")
		return LoginResult{Outcome: LoginAuthenticated, Token: token, User: user}, nil
	}

	if wait := s.otp.BlockedFor(user); wait > 0 {
		return LoginResult{}, tooManyAttempts(wait)
	}

	email := user.EmailAddress()
	if email == "" {
		return LoginResult{}, s.internal(fmt.Errorf("user %s has no email", user.ID), "login otp")
	}

	pending, err := s.tokens.IssueLoginOTP(security.LoginOTPPending{UserID: user.ID}, s.cfg.Security.LoginOTPTokenTTL)
	if err != nil {
		return LoginResult{}, s.internal(err, "issue login pending token")
	}
	if err := s.sendOTP(ctx, user.ID, email, models.OTPPurposeLogin, pending); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Outcome:         LoginOTPRequired,
		User:            user,
		OTPPendingToken: pending,
		MaskedEmail:     validation.MaskEmail(email),
		ExpiresIn:       s.otp.TTL(),
	}, nil
}

type SetupResult struct {
	SetupToken string
	ExpiresIn  time.Duration
}

func (s *AuthService) InitiateSetup(ctx context.Context, username string, email string) (SetupResult, error) {
	username = strings.TrimSpace(username)
	email = validation.NormalizeEmail(email)
	if username == "" || email == "" {
		return SetupResult{}, invalidInput("Username y email son requeridos")
	}
	if !validation.ValidEmail(email) {
		return SetupResult{}, invalidInput("Email inválido")
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return SetupResult{}, s.internal(err, "find user")
	}
	if err != nil || !user.PasswordSetupRequired {
		return SetupResult{}, newAuthError(KindSetupNotAvailable, "Setup no disponible para este usuario")
	}

	owner, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil && owner.ID != user.ID:
		return SetupResult{}, emailInUse()
	case err != nil && !errors.Is(err, repository.ErrUserNotFound):
		return SetupResult{}, s.internal(err, "find user by email")
	}

	if wait := s.otp.BlockedFor(user); wait > 0 {
		return SetupResult{}, tooManyAttempts(wait)
	}

	if !s.cfg.Auth.StageSetupEmail {
		if err := s.users.SetEmail(ctx, user.ID, email); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return SetupResult{}, emailInUse()
			}
			return SetupResult{}, s.internal(err, "store provisional email")
		}
	}

	pending, err := s.tokens.IssueSetupOTP(security.SetupOTPPending{UserID: user.ID, Email: email}, s.cfg.Security.SetupOTPTokenTTL)
	if err != nil {
		return SetupResult{}, s.internal(err, "issue setup pending token")
	}
	if err := s.sendOTP(ctx, user.ID, email, models.OTPPurposeSetup, pending); err != nil {
		return SetupResult{}, err
	}

	return SetupResult{SetupToken: pending, ExpiresIn: s.otp.TTL()}, nil
}

func (s *AuthService) VerifySetupOTP(ctx context.Context, setupToken string, code string) (string, error) {
	if setupToken == "" || code == "" {
		return "", invalidInput("Token y código OTP requeridos")
	}
	if !security.ValidOTPFormat(code) {
		return "", malformedCode()
	}

	pending, err := s.tokens.ParseSetupOTP(setupToken)
	if err != nil {
		return "", tokenExpiredOrInvalid("Token expirado o inválido")
	}

	user, err := s.loadPendingUser(ctx, pending.UserID, true)
	if err != nil {
		return "", err
	}

	if err := s.verifyCode(ctx, user, code, models.OTPPurposeSetup); err != nil {
		return "", err
	}

	if s.cfg.Auth.StageSetupEmail {
		if err := s.users.SetEmail(ctx, user.ID, pending.Email); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return "", emailInUse()
			}
			return "", s.internal(err, "store verified email")
		}
	}

	token, err := s.tokens.IssuePasswordSetup(security.PasswordSetupPending{UserID: user.ID, EmailVerified: true}, s.cfg.Security.PasswordSetupTTL)
	if err != nil {
		return "", s.internal(err, "issue password setup token")
	}
	s.log.Info().Str("user_id", user.ID).Msg("setup email verified")
	return token, nil
}

// CompleteSetup replaces the temporary password. It never signs the user
// in; the next step is a regular Login.
func (s *AuthService) CompleteSetup(ctx context.Context, passwordSetupToken string, password string, confirmPassword string) error {
	if passwordSetupToken == "" || password == "" || confirmPassword == "" {
		return invalidInput("Todos los campos son requeridos")
	}
	if password != confirmPassword {
		return newAuthError(KindPasswordMismatch, "Las contraseñas no coinciden")
	}
	if violations := security.ValidatePasswordStrength(password); len(violations) > 0 {
		return &AuthError{
			Kind:    KindWeakPassword,
			Message: "Contraseña no cumple los requisitos",
			Details: violations,
		}
	}

	pending, err := s.tokens.ParsePasswordSetup(passwordSetupToken)
	if err != nil || !pending.EmailVerified {
		return tokenExpiredOrInvalid("Token expirado. Inicia el proceso nuevamente.")
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return tokenExpiredOrInvalid("Token expirado. Inicia el proceso nuevamente.")
		}
		return s.internal(err, "load user")
	}
	if !user.PasswordSetupRequired || user.EmailAddress() == "" {
		return tokenExpiredOrInvalid("Token expirado. Inicia el proceso nuevamente.")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return s.internal(err, "hash password")
	}
	if err := s.users.CompleteSetup(ctx, user.ID, hash); err != nil {
		return s.internal(err, "complete setup")
	}

	s.log.Info().Str("user_id", user.ID).Msg("password setup completed")
	return nil
}

type VerifyLoginInput struct {
	PendingToken string
	Code         string
	TrustDevice  bool
	UserAgent    string
	IPAddress    string
}

type VerifyLoginResult struct {
	Token         string
	User          models.User
	DeviceTrusted bool
	Device        TrustGrant
}

func (s *AuthService) VerifyLoginOTP(ctx context.Context, input VerifyLoginInput) (VerifyLoginResult, error) {
	if input.PendingToken == "" || input.Code == "" {
		return VerifyLoginResult{}, invalidInput("Token y código OTP requeridos")
	}
	if !security.ValidOTPFormat(input.Code) {
		return VerifyLoginResult{}, malformedCode()
	}

	pending, err := s.tokens.ParseLoginOTP(input.PendingToken)
	if err != nil {
		return VerifyLoginResult{}, tokenExpiredOrInvalid("Token expirado o inválido")
	}

	user, err := s.loadPendingUser(ctx, pending.UserID, false)
	if err != nil {
		return VerifyLoginResult{}, err
	}

	if err := s.verifyCode(ctx, user, input.Code, models.OTPPurposeLogin); err != nil {
		return VerifyLoginResult{}, err
	}

	token, err := s.issueSession(user)
	if err != nil {
		return VerifyLoginResult{}, s.internal(err, "issue session")
	}

	result := VerifyLoginResult{Token: token, User: user}
	if input.TrustDevice {
		grant, err := s.devices.Trust(ctx, user.ID, input.UserAgent, input.IPAddress)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("trust device failed")
		} else {
			result.DeviceTrusted = true
			result.Device = grant
		}
	}

	s.log.Info().Str("user_id", user.ID).Bool("device_trusted", result.DeviceTrusted).Msg("login otp verified")
	return result, nil
}

type ResendResult struct {
	PendingToken string
	Purpose      models.OTPPurpose
	MaskedEmail  string
	NextResendIn time.Duration
}

// ResendOTP issues a new code for whichever code-waiting step the token
// belongs to and returns a replacement token with the resend count bumped.
func (s *AuthService) ResendOTP(ctx context.Context, pendingToken string) (ResendResult, error) {
	if pendingToken == "" {
		return ResendResult{}, invalidInput("Token requerido")
	}

	pending, err := s.tokens.ParseOTPPending(pendingToken)
	if err != nil {
		return ResendResult{}, tokenExpiredOrInvalid("Token expirado o inválido")
	}

	var (
		userID      string
		resendCount int
		setup       = pending.Setup != nil
	)
	if setup {
		userID, resendCount = pending.Setup.UserID, pending.Setup.ResendCount+1
	} else {
		userID, resendCount = pending.Login.UserID, pending.Login.ResendCount+1
	}

	user, err := s.loadPendingUser(ctx, userID, setup)
	if err != nil {
		return ResendResult{}, err
	}
	if wait := s.otp.BlockedFor(user); wait > 0 {
		return ResendResult{}, tooManyAttempts(wait)
	}

	var (
		purpose models.OTPPurpose
		email   string
		next    string
	)
	if setup {
		purpose, email = models.OTPPurposeSetup, pending.Setup.Email
		next, err = s.tokens.IssueSetupOTP(security.SetupOTPPending{
			UserID:      user.ID,
			Email:       email,
			ResendCount: resendCount,
		}, s.cfg.Security.SetupOTPTokenTTL)
	} else {
		purpose, email = models.OTPPurposeLogin, user.EmailAddress()
		next, err = s.tokens.IssueLoginOTP(security.LoginOTPPending{
			UserID:      user.ID,
			ResendCount: resendCount,
		}, s.cfg.Security.LoginOTPTokenTTL)
	}
	if err != nil {
		return ResendResult{}, s.internal(err, "issue pending token")
	}
	if email == "" {
		return ResendResult{}, s.internal(fmt.Errorf("user %s has no email", user.ID), "resend otp")
	}

	if err := s.sendOTP(ctx, user.ID, email, purpose, next); err != nil {
		return ResendResult{}, err
	}

	return ResendResult{
		PendingToken: next,
		Purpose:      purpose,
		MaskedEmail:  validation.MaskEmail(email),
		NextResendIn: s.otp.NextResendIn(resendCount),
	}, nil
}

// LogoutAll revokes every trusted device of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, newAuthError(KindUnauthenticated, "No autenticado")
	}
	n, err := s.devices.RevokeAll(ctx, userID)
	if err != nil {
		return 0, s.internal(err, "revoke devices")
	}
	s.log.Info().Str("user_id", userID).Int64("revoked", n).Msg("logout all devices")
	return n, nil
}

func (s *AuthService) TrustedDevices(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	devices, err := s.devices.List(ctx, userID)
	if err != nil {
		return nil, s.internal(err, "list devices")
	}
	return devices, nil
}

// ClearLockout lifts an OTP block on behalf of an operator.
func (s *AuthService) ClearLockout(ctx context.Context, userID string) error {
	if err := s.users.ResetOTPAttempts(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newAuthError(KindNotFound, "Usuario no encontrado")
		}
		return s.internal(err, "reset otp attempts")
	}
	s.log.Info().Str("user_id", userID).Msg("otp lockout cleared")
	return nil
}

// ParseSession verifies a bearer token for the auth middleware.
func (s *AuthService) ParseSession(token string) (*security.SessionClaims, error) {
	return s.tokens.ParseSession(token)
}

// loadPendingUser resolves the user a pending token points at and checks
// that the token still matches the user's setup state.
func (s *AuthService) loadPendingUser(ctx context.Context, userID string, setup bool) (models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, tokenExpiredOrInvalid("Token expirado o inválido")
		}
		return models.User{}, s.internal(err, "load user")
	}
	if user.PasswordSetupRequired != setup {
		return models.User{}, tokenExpiredOrInvalid("Token expirado o inválido")
	}
	return user, nil
}

func (s *AuthService) verifyCode(ctx context.Context, user models.User, code string, purpose models.OTPPurpose) error {
	if wait := s.otp.BlockedFor(user); wait > 0 {
		return tooManyAttempts(wait)
	}

	result, err := s.otp.Verify(ctx, user.ID, code, purpose)
	if err != nil {
		return s.internal(err, "verify otp")
	}

	switch result.Outcome {
	case OTPValid:
		return nil
	case OTPExpired:
		return newAuthError(KindCodeExpired, "Código expirado. Solicita uno nuevo.")
	case OTPJustBlocked:
		minutes := int(s.otp.BlockDuration().Minutes())
		s.log.Warn().Str("user_id", user.ID).Str("purpose", string(purpose)).Msg("otp lockout triggered")
		return &AuthError{
			Kind:        KindBlocked,
			Message:     fmt.Sprintf("Código incorrecto. Has sido bloqueado por %d minutos.", minutes),
			WaitMinutes: minutes,
		}
	default:
		remaining := result.AttemptsRemaining
		return &AuthError{
			Kind:              KindCodeIncorrect,
			Message:           fmt.Sprintf("Código incorrecto, te %s %d %s", plural(remaining, "queda", "quedan"), remaining, plural(remaining, "intento", "intentos")),
			Hint:              spamHint,
			AttemptsRemaining: remaining,
		}
	}
}

// sendOTP issues the code before sending it. A delivery failure leaves the
// code stored and hands the pending token back so the client can resend.
func (s *AuthService) sendOTP(ctx context.Context, userID string, email string, purpose models.OTPPurpose, pending string) error {
	code, err := s.otp.Issue(ctx, userID, purpose)
	if err != nil {
		return s.internal(err, "issue otp")
	}

	if err := s.notifier.SendOTP(ctx, email, code, purpose); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("purpose", string(purpose)).Msg("otp delivery failed")
		return &AuthError{
			Kind:         KindNotificationFailed,
			Message:      "No se pudo enviar el código. Intenta reenviarlo.",
			PendingToken: pending,
			Err:          err,
		}
	}
	return nil
}

func (s *AuthService) issueSession(user models.User) (string, error) {
	return s.tokens.IssueSession(security.SessionSubject{
		UserID:   user.ID,
		Role:     string(user.Role),
		Email:    user.EmailAddress(),
		Username: user.Username,
	}, s.cfg.Security.SessionTTL)
}

func (s *AuthService) internal(err error, op string) *AuthError {
	s.log.Error().Err(err).Str("op", op).Msg("auth internal error")
	return &AuthError{
		Kind:    KindInternal,
		Message: "Error interno del servidor",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

func emailInUse() *AuthError {
	return newAuthError(KindEmailInUse, "Este email ya está en uso")
}
