package executors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/models"
)

// Result is what an executor reports back on success
type Result struct {
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Executor performs one kind of outbound side effect. Executors are stateless
// between calls and never touch the event or approval tables; the runner owns
// all bookkeeping.
type Executor interface {
	Action() string
	Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error)
}

// Registry dispatches jobs to executors by action name
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor. Later registrations win, which lets tests swap
// in fakes.
func (r *Registry) Register(e Executor) {
	r.executors[e.Action()] = e
}

// Dispatch runs the executor for the job's action. An unknown action is a
// permanent failure.
func (r *Registry) Dispatch(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	executor, ok := r.executors[job.Action]
	if !ok {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("no executor for action %q", job.Action))
	}
	return executor.Execute(ctx, job)
}

// Actions lists registered action names
func (r *Registry) Actions() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}

// jobContext pulls the match context map out of a job payload
func jobContext(job *models.WorkflowJob) map[string]interface{} {
	if ctx, ok := job.Payload["context"].(map[string]interface{}); ok {
		return ctx
	}
	return map[string]interface{}{}
}

// contextString reads a string field from the match context
func contextString(job *models.WorkflowJob, key string) string {
	if v, ok := jobContext(job)[key].(string); ok {
		return v
	}
	return ""
}

// splitRepo parses "owner/name" references
func splitRepo(full string) (string, string, error) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperrors.New(apperrors.KindValidation, fmt.Sprintf("malformed repo reference %q", full))
	}
	return parts[0], parts[1], nil
}

// subjectPRNumber extracts the pull request number from a "pr:<n>" subject
func subjectPRNumber(job *models.WorkflowJob) (int, error) {
	raw := strings.TrimPrefix(job.Subject, "pr:")
	if raw == job.Subject {
		raw = contextString(job, "pr_number")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.New(apperrors.KindValidation, fmt.Sprintf("subject %q has no pull request number", job.Subject))
	}
	return n, nil
}
