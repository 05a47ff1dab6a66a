package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/captcha"
	"pancomido/auth/internal/config"
	"pancomido/auth/internal/middleware"
	"pancomido/auth/internal/models"
	"pancomido/auth/internal/security"
	"pancomido/auth/internal/service"
)

// AuthFlow is the part of service.AuthService the HTTP layer drives.
type AuthFlow interface {
	Login(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	InitiateSetup(ctx context.Context, username string, email string) (service.SetupResult, error)
	VerifySetupOTP(ctx context.Context, setupToken string, code string) (string, error)
	CompleteSetup(ctx context.Context, passwordSetupToken string, password string, confirmPassword string) error
	VerifyLoginOTP(ctx context.Context, input service.VerifyLoginInput) (service.VerifyLoginResult, error)
	ResendOTP(ctx context.Context, pendingToken string) (service.ResendResult, error)
	LogoutAll(ctx context.Context, userID string) (int64, error)
	TrustedDevices(ctx context.Context, userID string) ([]models.TrustedDevice, error)
	ClearLockout(ctx context.Context, userID string) error
	ParseSession(token string) (*security.SessionClaims, error)
}

var _ AuthFlow = (*service.AuthService)(nil)

// Dependencies are optional infrastructure handles. Nil entries are
// skipped by health checks and middleware.
type Dependencies struct {
	DB      *pgxpool.Pool
	Cache   redis.UniversalClient
	Captcha captcha.Verifier
}

type HandlerSet struct {
	log  zerolog.Logger
	cfg  *config.AppConfig
	auth AuthFlow
	deps Dependencies
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, auth AuthFlow, deps Dependencies) HandlerSet {
	return HandlerSet{
		log:  log,
		cfg:  cfg,
		auth: auth,
		deps: deps,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	auth := router.Group("/auth")
	auth.Use(middleware.RateLimit(h.cfg.RateLimit, h.deps.Cache, h.log))
	{
		auth.POST("/login", middleware.Turnstile(h.deps.Captcha, h.cfg.Turnstile.FailOpen, h.log), h.Login)
		auth.POST("/initiate-setup", h.InitiateSetup)
		auth.POST("/verify-setup-otp", h.VerifySetupOTP)
		auth.POST("/complete-setup", h.CompleteSetup)
		auth.POST("/verify-login-otp", h.VerifyLoginOTP)
		auth.POST("/resend-otp", h.ResendOTP)

		protected := auth.Group("")
		protected.Use(middleware.Auth(h.auth))
		protected.POST("/logout-all", h.LogoutAll)
		protected.GET("/me", h.Me)
		protected.GET("/devices", h.ListDevices)
	}

	admin := router.Group("/admin")
	admin.Use(
		middleware.Auth(h.auth),
		middleware.RequireRoles(models.UserRoleDeveloper),
	)
	admin.DELETE("/users/:id/otp-block", h.AdminClearLockout)
}
