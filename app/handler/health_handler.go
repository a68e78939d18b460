package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"gpuindex/pkg/logger"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// Pinger is a backing store that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the stores this process depends on respond
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler; checks are keyed by store name
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Check reports per-store status
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			logger.WarnCtx(ctx, "health check %s failed: %v", name, err)
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	c.JSON(code, gin.H{"status": status, "checks": results})
}
