package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/bootstrap"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	components *bootstrap.Components
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(components *bootstrap.Components) *HealthHandler {
	return &HealthHandler{components: components}
}

// Health reports overall service health
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	dbStatus := map[string]interface{}{"ok": true}
	status := "ok"
	code := http.StatusOK

	if err := h.components.DB.Health(c.Request().Context()); err != nil {
		dbStatus["ok"] = false
		dbStatus["details"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status": status,
		"db":     dbStatus,
	})
}

// Ready reports readiness with a measured database roundtrip
// GET /ready
func (h *HealthHandler) Ready(c echo.Context) error {
	roundtrip, err := h.components.DB.Roundtrip(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"ready": false,
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ready":           true,
		"db_roundtrip_ms": roundtrip.Milliseconds(),
	})
}
