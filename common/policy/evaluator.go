package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
)

// Input is one policy evaluation request
type Input struct {
	Kind    string                 `json:"kind"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Evaluator answers policy questions. With an external URL configured it
// forwards there first and falls back to the built-in table on network
// failure, unless fail-closed is set.
type Evaluator struct {
	table       *Table
	externalURL string
	failClosed  bool
	client      *http.Client
	logger      *logger.Logger
}

// NewEvaluator creates an evaluator over the built-in table with an optional
// external backend.
func NewEvaluator(table *Table, externalURL string, failClosed bool, timeout time.Duration, log *logger.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Evaluator{
		table:       table,
		externalURL: externalURL,
		failClosed:  failClosed,
		client:      &http.Client{Timeout: timeout},
		logger:      log,
	}
}

// Evaluate resolves the decision for input
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.Kind == "" {
		return Decision{}, apperrors.New(apperrors.KindValidation, "policy input requires a kind")
	}

	if e.externalURL == "" {
		return e.table.Evaluate(input.Kind), nil
	}

	decision, err := e.evaluateExternal(ctx, input)
	if err == nil {
		return decision, nil
	}

	if e.failClosed {
		return Decision{}, apperrors.Wrap(err, apperrors.KindUnavailable, "external policy backend unavailable")
	}

	e.logger.WithContext(ctx).Warn("external policy backend failed, using built-in table",
		"kind", input.Kind, "error", err)
	return e.table.Evaluate(input.Kind), nil
}

func (e *Evaluator) evaluateExternal(ctx context.Context, input Input) (Decision, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal policy input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.externalURL, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("policy backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Decision{}, fmt.Errorf("policy backend returned %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode policy response: %w", err)
	}
	return decision, nil
}
