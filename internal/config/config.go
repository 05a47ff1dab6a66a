package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	BucketAudit string
	UseSSL      bool
	Region      string
}

type SecurityConfig struct {
	JWTSecret         string
	SessionTTL        time.Duration
	SetupOTPTokenTTL  time.Duration
	PasswordSetupTTL  time.Duration
	LoginOTPTokenTTL  time.Duration
	DeviceTokenSecret string
	CookieDomain      string
	CookieSecure      bool
}

type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
	BcryptCost    int
	ResendBase    time.Duration
	ResendMax     time.Duration
}

type DeviceConfig struct {
	TrustTTL   time.Duration
	CookieName string
	CookiePath string
}

type MailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type TurnstileConfig struct {
	SecretKey string
	VerifyURL string
	FailOpen  bool
	Timeout   time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

type JobsConfig struct {
	CleanupSchedule string
	OTPRetention    time.Duration
	ClaimInterval   time.Duration
}

type AuthConfig struct {
	StageSetupEmail bool
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	OTP              OTPConfig
	Device           DeviceConfig
	Mail             MailConfig
	Turnstile        TurnstileConfig
	RateLimit        RateLimitConfig
	Jobs             JobsConfig
	Auth             AuthConfig
	AllowCORSOrigins []string
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PANCOMIDO")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would run production with
// development placeholders.
func (c *AppConfig) Validate() error {
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("otp.maxattempts must be positive")
	}
	if c.OTP.ResendBase <= 0 || c.OTP.ResendMax < c.OTP.ResendBase {
		return errors.New("otp.resendbase must be positive and not exceed otp.resendmax")
	}
	if c.Environment != "production" {
		return nil
	}
	if len(c.Security.JWTSecret) < 32 {
		return errors.New("security.jwtsecret must be at least 32 bytes in production")
	}
	if len(c.Security.DeviceTokenSecret) < 32 {
		return errors.New("security.devicetokensecret must be at least 32 bytes in production")
	}
	if !c.Mail.Enabled {
		return errors.New("mail must be enabled in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3000)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "30s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 20)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "auth:maintenance")
	v.SetDefault("redis.group", "auth-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketaudit", "auth-audit")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtsecret", "dev-only-jwt-secret")
	v.SetDefault("security.sessionttl", "720h") // 30 days
	v.SetDefault("security.setupotptokenttl", "5m")
	v.SetDefault("security.passwordsetupttl", "10m")
	v.SetDefault("security.loginotptokenttl", "5m")
	v.SetDefault("security.devicetokensecret", "dev-only-device-secret")
	v.SetDefault("security.cookiedomain", "")
	v.SetDefault("security.cookiesecure", false)

	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.maxattempts", 3)
	v.SetDefault("otp.blockduration", "15m")
	v.SetDefault("otp.bcryptcost", 10)
	v.SetDefault("otp.resendbase", "30s")
	v.SetDefault("otp.resendmax", "5m")

	v.SetDefault("device.trustttl", "720h") // 30 days
	v.SetDefault("device.cookiename", "trusted_device")
	v.SetDefault("device.cookiepath", "/api/auth")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "La Pancomido <no-reply@lapancomido.cl>")
	v.SetDefault("mail.timeout", "10s")

	v.SetDefault("turnstile.secretkey", "")
	v.SetDefault("turnstile.verifyurl", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	v.SetDefault("turnstile.failopen", true)
	v.SetDefault("turnstile.timeout", "5s")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 30)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("jobs.cleanupschedule", "0 0 * * * *") // hourly
	v.SetDefault("jobs.otpretention", "24h")
	v.SetDefault("jobs.claiminterval", "30s")

	v.SetDefault("auth.stagesetupemail", true)

	v.SetDefault("allowcorsorigins", []string{})
}
