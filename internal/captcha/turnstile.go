package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pancomido/auth/internal/config"
)

// ErrUnavailable wraps transport and decoding failures so callers can
// decide whether to fail open.
var ErrUnavailable = errors.New("captcha provider unavailable")

type Verifier interface {
	Verify(ctx context.Context, token string, remoteIP string) (bool, error)
}

type Turnstile struct {
	secret     string
	verifyURL  string
	timeout    time.Duration
	httpClient *http.Client
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// NewTurnstile returns nil when no secret is configured, which disables
// verification.
func NewTurnstile(cfg config.TurnstileConfig) *Turnstile {
	if cfg.SecretKey == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Turnstile{
		secret:     cfg.SecretKey,
		verifyURL:  cfg.VerifyURL,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (t *Turnstile) Verify(ctx context.Context, token string, remoteIP string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	form := url.Values{
		"secret":   {t.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return out.Success, nil
}
