package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Cache       string `json:"cache"`
	Environment string `json:"environment"`
}

func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "disabled",
		Cache:       "disabled",
		Environment: h.cfg.Environment,
	}
	status := http.StatusOK

	if h.deps.DB != nil {
		resp.Database = "ok"
		if err := h.deps.DB.Ping(ctx); err != nil {
			resp.Database = "error"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.log.Error().Err(err).Msg("database ping failed")
		}
	}

	// the cache only backs rate limiting, so a failure does not degrade
	if h.deps.Cache != nil {
		resp.Cache = "ok"
		if err := h.deps.Cache.Ping(ctx).Err(); err != nil {
			resp.Cache = "error"
			h.log.Error().Err(err).Msg("redis ping failed")
		}
	}

	c.JSON(status, resp)
}
