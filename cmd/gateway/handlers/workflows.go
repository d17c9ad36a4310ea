package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/cmd/gateway/service"
	"github.com/opsrelay/opsrelay/common/apperrors"
)

// WorkflowHandler exposes the run/queue surface
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// Run routes an explicit action request through policy
// POST /v1/workflows/run
func (h *WorkflowHandler) Run(c echo.Context) error {
	var req service.RunRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}

	result, err := h.workflows.Run(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListJobs returns workflow jobs
// GET /v1/workflows/jobs?status=queued&limit=50
func (h *WorkflowHandler) ListJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	jobs, err := h.workflows.ListJobs(c.Request().Context(), c.QueryParam("status"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns one job
// GET /v1/workflows/jobs/:id
func (h *WorkflowHandler) GetJob(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	job, err := h.workflows.GetJob(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// CancelJob cancels a queued job
// DELETE /v1/workflows/jobs/:id
func (h *WorkflowHandler) CancelJob(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := h.workflows.CancelJob(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "cancelled",
	})
}
