package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/quota"
	"github.com/opsrelay/opsrelay/common/repository"
)

// MetricsHandler serves domain metrics: DORA pass-throughs and quota usage
type MetricsHandler struct {
	dora   *repository.DORARepository
	quotas *quota.Counters
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(dora *repository.DORARepository, quotas *quota.Counters) *MetricsHandler {
	return &MetricsHandler{dora: dora, quotas: quotas}
}

// DeploymentFrequency reads the deployment frequency view
// GET /v1/metrics/dora/deployment-frequency
func (h *MetricsHandler) DeploymentFrequency(c echo.Context) error {
	rows, err := h.dora.DeploymentFrequency(c.Request().Context(), queryLimit(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metric": "deployment_frequency", "rows": rows})
}

// LeadTime reads the lead time view
// GET /v1/metrics/dora/lead-time
func (h *MetricsHandler) LeadTime(c echo.Context) error {
	rows, err := h.dora.LeadTime(c.Request().Context(), queryLimit(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metric": "lead_time", "rows": rows})
}

// ChangeFailRate reads the change fail rate view
// GET /v1/metrics/dora/change-fail-rate
func (h *MetricsHandler) ChangeFailRate(c echo.Context) error {
	rows, err := h.dora.ChangeFailRate(c.Request().Context(), queryLimit(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metric": "change_fail_rate", "rows": rows})
}

// MTTR reads the time-to-restore view
// GET /v1/metrics/dora/mttr
func (h *MetricsHandler) MTTR(c echo.Context) error {
	rows, err := h.dora.MTTR(c.Request().Context(), queryLimit(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metric": "mttr", "rows": rows})
}

// Quotas reports current daily quota usage
// GET /v1/metrics/quotas
func (h *MetricsHandler) Quotas(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"day":    h.quotas.Day(),
		"quotas": h.quotas.Snapshot(),
	})
}

func queryLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return limit
}
