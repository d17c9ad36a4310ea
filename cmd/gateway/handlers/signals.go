package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/rules"
	"github.com/opsrelay/opsrelay/common/signals"
)

// SignalHandler runs one-shot rule evaluations
type SignalHandler struct {
	evaluator *signals.Evaluator
	loader    *rules.Loader
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(evaluator *signals.Evaluator, loader *rules.Loader) *SignalHandler {
	return &SignalHandler{evaluator: evaluator, loader: loader}
}

type evaluateRequest struct {
	Rules []rules.Rule `json:"rules,omitempty"`
	YAML  string       `json:"yaml,omitempty"`
}

// Evaluate runs a caller-supplied rule batch without routing the matches.
// The body carries either an inline rule list or a YAML document; anything
// else is a 400. Broken rules surface per-rule, never as a 5xx.
// POST /v1/signals/evaluate
func (h *SignalHandler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}

	ruleList, err := h.resolveRules(req)
	if err != nil {
		return writeError(c, err)
	}

	results := h.evaluator.EvaluateRules(c.Request().Context(), ruleList)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (h *SignalHandler) resolveRules(req evaluateRequest) ([]rules.Rule, error) {
	switch {
	case len(req.Rules) > 0 && req.YAML != "":
		return nil, apperrors.New(apperrors.KindValidation, "provide either rules or yaml, not both")
	case len(req.Rules) > 0:
		return req.Rules, nil
	case req.YAML != "":
		return rules.Parse([]byte(req.YAML))
	default:
		return nil, apperrors.New(apperrors.KindValidation, "request must carry rules or yaml")
	}
}

// RunEvals evaluates the configured rule file and reports timing and match
// counts for the whole batch.
// POST /v1/evals/run
func (h *SignalHandler) RunEvals(c echo.Context) error {
	ruleList, err := h.loader.Current()
	if err != nil {
		return writeError(c, apperrors.Wrap(err, apperrors.KindUnavailable, "rules unavailable"))
	}

	started := time.Now()
	results := h.evaluator.EvaluateRules(c.Request().Context(), ruleList)

	var matches, errored int
	for _, result := range results {
		matches += len(result.Matches)
		if result.Error != "" {
			errored++
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules_evaluated":  len(results),
		"total_matches":    matches,
		"rules_with_error": errored,
		"elapsed_ms":       time.Since(started).Milliseconds(),
		"results":          results,
	})
}
