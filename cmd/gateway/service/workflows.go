package service

import (
	"context"
	"errors"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/policy"
	"github.com/opsrelay/opsrelay/common/repository"
)

// RunRequest asks for an action on a subject, with policy deciding the route
type RunRequest struct {
	RuleKind string                 `json:"rule_kind"`
	Subject  string                 `json:"subject"`
	Action   string                 `json:"action,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// RunResult reports where the request landed. ActionID is the id the caller
// acts on next: the queued job on the auto path, the approval awaiting a
// decision otherwise.
type RunResult struct {
	ActionID   int64  `json:"action_id"`
	Status     string `json:"status"`
	JobID      int64  `json:"job_id,omitempty"`
	ApprovalID int64  `json:"approval_id,omitempty"`
}

// WorkflowService routes explicit run requests through policy and manages the
// job queue's API surface.
type WorkflowService struct {
	jobs      *repository.JobRepository
	approvals *repository.ApprovalRepository
	actionLog *repository.ActionLogRepository
	policy    *policy.Evaluator
	logger    *logger.Logger
}

// NewWorkflowService creates the workflow service
func NewWorkflowService(
	jobs *repository.JobRepository,
	approvals *repository.ApprovalRepository,
	actionLog *repository.ActionLogRepository,
	policyEval *policy.Evaluator,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		jobs:      jobs,
		approvals: approvals,
		actionLog: actionLog,
		policy:    policyEval,
		logger:    log,
	}
}

// Run applies policy to the request and either queues a job or opens an
// approval.
func (s *WorkflowService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.RuleKind == "" || req.Subject == "" {
		return nil, apperrors.New(apperrors.KindValidation, "rule_kind and subject are required")
	}

	decision, err := s.policy.Evaluate(ctx, policy.Input{Kind: req.RuleKind, Context: req.Context})
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		return nil, apperrors.New(apperrors.KindAuthorization, "policy denies this action: "+decision.Reason)
	}

	action := req.Action
	if action == "" {
		action = decision.Action
	}

	payload := map[string]interface{}{
		"rule":    "manual",
		"kind":    req.RuleKind,
		"context": req.Context,
	}
	traceID := logger.TraceIDFrom(ctx)

	entry := &models.ActionLogEntry{
		RuleName: "manual",
		Subject:  req.Subject,
		Action:   action,
		Outcome:  models.OutcomeProposed,
		Actor:    "api",
		TraceID:  traceID,
		Payload:  payload,
	}
	if err := s.actionLog.Append(ctx, entry); err != nil {
		s.logger.WithContext(ctx).Warn("failed to append audit entry",
			"subject", req.Subject, "error", err)
	}

	if decision.Mode == policy.ModeAuto {
		job := &models.WorkflowJob{
			RuleKind: req.RuleKind,
			Subject:  req.Subject,
			Action:   action,
			Payload:  payload,
			TraceID:  traceID,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to enqueue job")
		}
		return &RunResult{ActionID: job.ID, Status: "queued", JobID: job.ID}, nil
	}

	approval := &models.Approval{
		Subject:         req.Subject,
		Action:          action,
		RiskLevel:       models.RiskLevel(decision.Risk),
		ProposedPayload: payload,
		Requester:       "api",
		TraceID:         traceID,
	}
	if err := s.approvals.Create(ctx, approval); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to create approval")
	}
	return &RunResult{ActionID: approval.ID, Status: "awaiting_approval", ApprovalID: approval.ID}, nil
}

// ListJobs returns jobs, optionally filtered by status
func (s *WorkflowService) ListJobs(ctx context.Context, status string, limit int) ([]*models.WorkflowJob, error) {
	jobs, err := s.jobs.List(ctx, status, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to list jobs")
	}
	return jobs, nil
}

// GetJob returns one job
func (s *WorkflowService) GetJob(ctx context.Context, id int64) (*models.WorkflowJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "job not found")
		}
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to load job")
	}
	return job, nil
}

// CancelJob removes a queued job. Running jobs are left alone; they finish or
// fail on their own.
func (s *WorkflowService) CancelJob(ctx context.Context, id int64) error {
	if err := s.jobs.SoftDeleteQueued(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.New(apperrors.KindNotFound, "no queued job with that id")
		}
		return apperrors.Wrap(err, apperrors.KindUnavailable, "failed to cancel job")
	}
	return nil
}
