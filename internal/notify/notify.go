package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/domodwyer/mailyak/v3"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/models"
)

// Notifier delivers a one-time code to an email address.
type Notifier interface {
	SendOTP(ctx context.Context, address string, code string, purpose models.OTPPurpose) error
}

type SMTPNotifier struct {
	addr     string
	auth     smtp.Auth
	from     string
	timeout  time.Duration
	// validFor is the OTP lifetime quoted in the email body.
	validFor time.Duration
	log      zerolog.Logger
}

func NewSMTPNotifier(cfg config.MailConfig, validFor time.Duration, log zerolog.Logger) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth:     auth,
		from:     cfg.From,
		timeout:  cfg.Timeout,
		validFor: validFor,
		log:      log,
	}
}

func (n *SMTPNotifier) SendOTP(ctx context.Context, address string, code string, purpose models.OTPPurpose) error {
	mail := n.compose(address, code, purpose)

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- mail.Send()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send otp email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send otp email: %w", err)
		}
	}

	n.log.Info().Str("purpose", string(purpose)).Msg("otp email sent")
	return nil
}

func (n *SMTPNotifier) compose(address string, code string, purpose models.OTPPurpose) *mailyak.MailYak {
	mail := mailyak.New(n.addr, n.auth)
	mail.To(address)
	mail.From(n.from)
	mail.Subject(subjectFor(purpose))

	text, html := bodyFor(code, purpose, int(n.validFor.Minutes()))
	mail.Plain().Set(text)
	mail.HTML().Set(html)
	return mail
}

func subjectFor(purpose models.OTPPurpose) string {
	if purpose == models.OTPPurposeSetup {
		return "Verifica tu email - La Pancomido"
	}
	return "Tu código de acceso - La Pancomido"
}

func bodyFor(code string, purpose models.OTPPurpose, minutes int) (string, string) {
	intro := "Usa este código para iniciar sesión en el panel de administración."
	if purpose == models.OTPPurposeSetup {
		intro = "Usa este código para verificar tu email y configurar tu contraseña."
	}
	spaced := code
	if len(code) == 8 {
		spaced = code[:4] + " " + code[4:]
	}

	var text strings.Builder
	text.WriteString(intro)
	text.WriteString("\n\nCódigo: ")
	text.WriteString(code)
	expiry := fmt.Sprintf("El código expira en %d minutos. Si no solicitaste este código, ignora este mensaje.", minutes)
	text.WriteString("\n\n")
	text.WriteString(expiry)
	text.WriteString("\n")

	html := fmt.Sprintf(`<p>%s</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p>
<p>%s</p>`, intro, spaced, expiry)

	return text.String(), html
}

// LogNotifier writes codes to the log instead of sending them. It is only
// wired when mail is disabled outside production.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendOTP(_ context.Context, address string, code string, purpose models.OTPPurpose) error {
	n.log.Warn().
		Str("to", address).
		Str("purpose", string(purpose)).
		Str("code", code).
		Msg("[DEV] otp not emailed")
	return nil
}
