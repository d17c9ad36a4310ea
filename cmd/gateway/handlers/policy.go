package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/policy"
)

// PolicyHandler exposes direct policy evaluation
type PolicyHandler struct {
	evaluator *policy.Evaluator
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(evaluator *policy.Evaluator) *PolicyHandler {
	return &PolicyHandler{evaluator: evaluator}
}

type policyRequest struct {
	Kind    string                 `json:"kind"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Evaluate returns the policy decision for a kind and context
// POST /v1/policy/evaluate
func (h *PolicyHandler) Evaluate(c echo.Context) error {
	var req policyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}

	decision, err := h.evaluator.Evaluate(c.Request().Context(), policy.Input{
		Kind:    req.Kind,
		Context: req.Context,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}
