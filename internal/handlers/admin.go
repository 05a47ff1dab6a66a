package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pancomido/auth/internal/middleware"
)

// AdminClearLockout lifts a user's OTP block. Developer role only.
func (h HandlerSet) AdminClearLockout(c *gin.Context) {
	userID := c.Param("id")
	if err := h.auth.ClearLockout(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}

	operator := ""
	if claims, ok := middleware.Claims(c); ok {
		operator = claims.UserID
	}
	h.log.Info().Str("user_id", userID).Str("operator", operator).Msg("admin cleared otp lockout")

	c.JSON(http.StatusOK, messageResponse{Success: true, Message: "Bloqueo eliminado"})
}
