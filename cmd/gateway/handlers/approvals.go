package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/cmd/gateway/service"
	"github.com/opsrelay/opsrelay/common/apperrors"
)

// ApprovalHandler exposes the propose/decide lifecycle
type ApprovalHandler struct {
	approvals *service.ApprovalService
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// Propose creates a pending approval
// POST /v1/approvals/propose
func (h *ApprovalHandler) Propose(c echo.Context) error {
	var req service.ProposeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}

	approval, err := h.approvals.Propose(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, approval)
}

// Decide records a decision on a pending approval
// POST /v1/approvals/:id/decision
func (h *ApprovalHandler) Decide(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	var req service.DecideRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}

	result, err := h.approvals.Decide(c.Request().Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Get returns one approval
// GET /v1/approvals/:id
func (h *ApprovalHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	approval, err := h.approvals.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, approval)
}

// List returns approvals, optionally filtered by status
// GET /v1/approvals?status=pending&limit=50
func (h *ApprovalHandler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	approvals, err := h.approvals.List(c.Request().Context(), c.QueryParam("status"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

// pathID parses the numeric :id path segment
func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.New(apperrors.KindValidation, "invalid id")
	}
	return id, nil
}
