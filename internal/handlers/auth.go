package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pancomido/auth/internal/middleware"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/security"
	"pancomido/auth/internal/service"
)

var kindStatus = map[service.ErrorKind]int{
	service.KindInvalidInput:          http.StatusBadRequest,
	service.KindInvalidCredentials:    http.StatusUnauthorized,
	service.KindSetupNotAvailable:     http.StatusBadRequest,
	service.KindEmailInUse:            http.StatusBadRequest,
	service.KindTooManyAttempts:       http.StatusTooManyRequests,
	service.KindBlocked:               http.StatusTooManyRequests,
	service.KindMalformedCode:         http.StatusBadRequest,
	service.KindTokenExpiredOrInvalid: http.StatusUnauthorized,
	service.KindCodeIncorrect:         http.StatusUnauthorized,
	service.KindCodeExpired:           http.StatusUnauthorized,
	service.KindPasswordMismatch:      http.StatusBadRequest,
	service.KindWeakPassword:          http.StatusBadRequest,
	service.KindNotificationFailed:    http.StatusBadGateway,
	service.KindUnauthenticated:       http.StatusUnauthorized,
	service.KindNotFound:              http.StatusNotFound,
	service.KindInternal:              http.StatusInternalServerError,
}

type errorResponse struct {
	Error             string   `json:"error"`
	Code              string   `json:"code"`
	Hint              string   `json:"hint,omitempty"`
	AttemptsRemaining int      `json:"attemptsRemaining,omitempty"`
	WaitMinutes       int      `json:"waitMinutes,omitempty"`
	Details           []string `json:"details,omitempty"`
	OTPPendingToken   string   `json:"otpPendingToken,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.EmailAddress(),
		Role:     string(u.Role),
	}
}

func (h HandlerSet) fail(c *gin.Context, err error) {
	var authErr *service.AuthError
	if !errors.As(err, &authErr) {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("unexpected handler error")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Error interno del servidor", Code: string(service.KindInternal)})
		return
	}

	status, ok := kindStatus[authErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, errorResponse{
		Error:             authErr.Message,
		Code:              string(authErr.Kind),
		Hint:              authErr.Hint,
		AttemptsRemaining: authErr.AttemptsRemaining,
		WaitMinutes:       authErr.WaitMinutes,
		Details:           authErr.Details,
		OTPPendingToken:   authErr.PendingToken,
	})
}

func (h HandlerSet) badBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "Cuerpo de la solicitud inválido", Code: string(service.KindInvalidInput)})
}

type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	TurnstileToken string `json:"turnstileToken"`
}

type sessionResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
	Message string       `json:"message,omitempty"`
}

type setupRequiredResponse struct {
	SetupRequired bool   `json:"setupRequired"`
	Username      string `json:"username"`
	Message       string `json:"message"`
}

type otpRequiredResponse struct {
	OTPRequired     bool   `json:"otpRequired"`
	OTPPendingToken string `json:"otpPendingToken"`
	Email           string `json:"email"`
	ExpiresIn       int    `json:"expiresIn"`
	Message         string `json:"message"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	deviceToken, _ := c.Cookie(h.cfg.Device.CookieName)

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Username:    req.Username,
		Password:    req.Password,
		DeviceToken: deviceToken,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	switch result.Outcome {
	case service.LoginSetupRequired:
		c.JSON(http.StatusOK, setupRequiredResponse{
			SetupRequired: true,
			Username:      result.User.Username,
			Message:       "Primer inicio de sesión - ingresa tu email para validación",
		})
	case service.LoginOTPRequired:
		c.JSON(http.StatusOK, otpRequiredResponse{
			OTPRequired:     true,
			OTPPendingToken: result.OTPPendingToken,
			Email:           result.MaskedEmail,
			ExpiresIn:       int(result.ExpiresIn.Seconds()),
			Message:         "Código de verificación enviado a tu email",
		})
	default:
		c.JSON(http.StatusOK, sessionResponse{
			Success: true,
			Token:   result.Token,
			User:    newUserResponse(result.User),
		})
	}
}

type initiateSetupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type initiateSetupResponse struct {
	Success    bool   `json:"success"`
	SetupToken string `json:"setupToken"`
	Message    string `json:"message"`
	ExpiresIn  int    `json:"expiresIn"`
}

func (h HandlerSet) InitiateSetup(c *gin.Context) {
	var req initiateSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	result, err := h.auth.InitiateSetup(c.Request.Context(), req.Username, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, initiateSetupResponse{
		Success:    true,
		SetupToken: result.SetupToken,
		Message:    "Código de verificación enviado a tu email",
		ExpiresIn:  int(result.ExpiresIn.Seconds()),
	})
}

type verifySetupOTPRequest struct {
	SetupToken string `json:"setupToken"`
	Code       string `json:"otp"`
}

type verifySetupOTPResponse struct {
	Success            bool   `json:"success"`
	PasswordSetupToken string `json:"passwordSetupToken"`
	Message            string `json:"message"`
}

func (h HandlerSet) VerifySetupOTP(c *gin.Context) {
	var req verifySetupOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	token, err := h.auth.VerifySetupOTP(c.Request.Context(), req.SetupToken, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, verifySetupOTPResponse{
		Success:            true,
		PasswordSetupToken: token,
		Message:            "Email verificado. Ahora configura tu contraseña.",
	})
}

type completeSetupRequest struct {
	PasswordSetupToken string `json:"passwordSetupToken"`
	Password           string `json:"password"`
	ConfirmPassword    string `json:"confirmPassword"`
}

type completeSetupResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RedirectTo string `json:"redirectTo"`
}

func (h HandlerSet) CompleteSetup(c *gin.Context) {
	var req completeSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	if err := h.auth.CompleteSetup(c.Request.Context(), req.PasswordSetupToken, req.Password, req.ConfirmPassword); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, completeSetupResponse{
		Success:    true,
		Message:    "Contraseña configurada exitosamente. Por favor inicia sesión.",
		RedirectTo: "/login",
	})
}

type verifyLoginOTPRequest struct {
	OTPPendingToken string `json:"otpPendingToken"`
	Code            string `json:"otp"`
	TrustDevice     bool   `json:"trustDevice"`
}

type verifyLoginOTPResponse struct {
	Success       bool         `json:"success"`
	Token         string       `json:"token"`
	User          userResponse `json:"user"`
	DeviceTrusted bool         `json:"deviceTrusted"`
	Message       string       `json:"message"`
}

func (h HandlerSet) VerifyLoginOTP(c *gin.Context) {
	var req verifyLoginOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	result, err := h.auth.VerifyLoginOTP(c.Request.Context(), service.VerifyLoginInput{
		PendingToken: req.OTPPendingToken,
		Code:         req.Code,
		TrustDevice:  req.TrustDevice,
		UserAgent:    c.GetHeader("User-Agent"),
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	message := "Inicio de sesión exitoso"
	if result.DeviceTrusted {
		h.setDeviceCookie(c, result.Device.Token, time.Until(result.Device.ExpiresAt))
		message = "Inicio de sesión exitoso. Este dispositivo fue recordado."
	}

	c.JSON(http.StatusOK, verifyLoginOTPResponse{
		Success:       true,
		Token:         result.Token,
		User:          newUserResponse(result.User),
		DeviceTrusted: result.DeviceTrusted,
		Message:       message,
	})
}

type resendOTPRequest struct {
	OTPPendingToken string `json:"otpPendingToken"`
	SetupToken      string `json:"setupToken"`
}

type resendOTPResponse struct {
	Success         bool   `json:"success"`
	OTPPendingToken string `json:"otpPendingToken"`
	Email           string `json:"email"`
	Message         string `json:"message"`
	NextResendIn    int    `json:"nextResendIn"`
}

func (h HandlerSet) ResendOTP(c *gin.Context) {
	var req resendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c)
		return
	}

	token := req.OTPPendingToken
	if token == "" {
		token = req.SetupToken
	}

	result, err := h.auth.ResendOTP(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resendOTPResponse{
		Success:         true,
		OTPPendingToken: result.PendingToken,
		Email:           result.MaskedEmail,
		Message:         "Nuevo código enviado a tu email",
		NextResendIn:    int(result.NextResendIn.Seconds()),
	})
}

type logoutAllResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		h.fail(c, &service.AuthError{Kind: service.KindUnauthenticated, Message: "No autenticado"})
		return
	}

	revoked, err := h.auth.LogoutAll(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.clearDeviceCookie(c)
	c.JSON(http.StatusOK, logoutAllResponse{
		Success: true,
		Message: "Sesión cerrada en todos los dispositivos",
		Revoked: revoked,
	})
}

type meResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (h HandlerSet) Me(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		h.fail(c, &service.AuthError{Kind: service.KindUnauthenticated, Message: "No autenticado"})
		return
	}
	c.JSON(http.StatusOK, meResponse{
		User:      claimsUser(claims),
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

type deviceResponse struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h HandlerSet) ListDevices(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		h.fail(c, &service.AuthError{Kind: service.KindUnauthenticated, Message: "No autenticado"})
		return
	}

	devices, err := h.auth.TrustedDevices(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		items = append(items, deviceResponse{
			ID:        d.ID,
			UserAgent: d.UserAgent,
			IPAddress: d.IPAddress,
			CreatedAt: d.CreatedAt,
			ExpiresAt: d.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func claimsUser(claims *security.SessionClaims) userResponse {
	return userResponse{
		ID:       claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
	}
}

func (h HandlerSet) setDeviceCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Device.CookieName,
		token,
		int(ttl.Seconds()),
		h.cfg.Device.CookiePath,
		h.cfg.Security.CookieDomain,
		h.cfg.Security.CookieSecure,
		true,
	)
}

func (h HandlerSet) clearDeviceCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Device.CookieName,
		"",
		-1,
		h.cfg.Device.CookiePath,
		h.cfg.Security.CookieDomain,
		h.cfg.Security.CookieSecure,
		true,
	)
}
