package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/captcha"
)

type captchaBody struct {
	TurnstileToken string `json:"turnstileToken"`
}

// Turnstile checks the turnstileToken field of a JSON body. A nil
// verifier disables the check. With failOpen, provider outages let the
// request through.
func Turnstile(verifier captcha.Verifier, failOpen bool, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Cuerpo inválido", "code": "invalid_input"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		var body captchaBody
		_ = json.Unmarshal(rawBody, &body)
		if body.TurnstileToken == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":             "Verificación de seguridad requerida",
				"code":              "captcha_required",
				"turnstileRequired": true,
			})
			return
		}

		ok, err := verifier.Verify(c.Request.Context(), body.TurnstileToken, c.ClientIP())
		if err != nil {
			log.Error().Err(err).Msg("turnstile verification error")
			if failOpen && errors.Is(err, captcha.ErrUnavailable) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Verificación de seguridad no disponible",
				"code":  "captcha_unavailable",
			})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":          "Verificación de seguridad fallida. Intenta de nuevo.",
				"code":           "captcha_failed",
				"turnstileError": true,
			})
			return
		}

		c.Next()
	}
}
