package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// Decision verbs accepted by the decide endpoint
const (
	DecisionApprove = "approve"
	DecisionDecline = "decline"
	DecisionModify  = "modify"
)

// maxReasonLength bounds the free-text decision reason
const maxReasonLength = 1000

// ProposeRequest is the input for creating an approval
type ProposeRequest struct {
	Subject         string                 `json:"subject"`
	Action          string                 `json:"action"`
	Risk            string                 `json:"risk"`
	ProposedPayload map[string]interface{} `json:"proposed_payload"`
	TTLSeconds      int64                  `json:"ttl_seconds"`
	Requester       string                 `json:"requester"`
}

// DecideRequest is the input for deciding an approval
type DecideRequest struct {
	Decision  string          `json:"decision"`
	Reason    string          `json:"reason"`
	DecidedBy string          `json:"decided_by"`
	Patch     json.RawMessage `json:"patch,omitempty"`
}

// DecideResult is the final approval state plus, when the decision enqueued
// work, the id of the created job
type DecideResult struct {
	*models.Approval
	JobID int64 `json:"job_id,omitempty"`
}

// ApprovalService owns the propose/decide lifecycle. An approval leaves
// pending exactly once; an approve or modify enqueues the stored action as a
// workflow job in the same logical step.
type ApprovalService struct {
	approvals *repository.ApprovalRepository
	jobs      *repository.JobRepository
	actionLog *repository.ActionLogRepository
	logger    *logger.Logger
	metrics   *telemetry.Metrics
}

// NewApprovalService creates the approval service
func NewApprovalService(
	approvals *repository.ApprovalRepository,
	jobs *repository.JobRepository,
	actionLog *repository.ActionLogRepository,
	log *logger.Logger,
	metrics *telemetry.Metrics,
) *ApprovalService {
	return &ApprovalService{
		approvals: approvals,
		jobs:      jobs,
		actionLog: actionLog,
		logger:    log,
		metrics:   metrics,
	}
}

// Propose creates a pending approval. A pending duplicate for the same
// (subject, action) within its TTL window is a conflict.
func (s *ApprovalService) Propose(ctx context.Context, req ProposeRequest) (*models.Approval, error) {
	if req.Subject == "" || req.Action == "" {
		return nil, apperrors.New(apperrors.KindValidation, "subject and action are required")
	}
	if req.Risk != "" && !models.ValidRisk(req.Risk) {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("invalid risk level %q", req.Risk))
	}

	duplicate, err := s.approvals.PendingDuplicateExists(ctx, req.Subject, req.Action)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "approval store unavailable")
	}
	if duplicate {
		return nil, apperrors.New(apperrors.KindConflict, "a pending approval already exists for this subject and action")
	}

	risk := models.RiskLevel(req.Risk)
	if risk == "" {
		risk = models.RiskLow
	}
	requester := req.Requester
	if requester == "" {
		requester = "api"
	}

	approval := &models.Approval{
		Subject:         req.Subject,
		Action:          req.Action,
		RiskLevel:       risk,
		ProposedPayload: req.ProposedPayload,
		Requester:       requester,
		TTLSeconds:      req.TTLSeconds,
		TraceID:         logger.TraceIDFrom(ctx),
	}
	if err := s.approvals.Create(ctx, approval); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to create approval")
	}

	s.audit(ctx, approval, models.OutcomeProposed, requester)
	return approval, nil
}

// Decide transitions a pending approval. Deciding an already-decided approval
// is a no-op returning the current state.
func (s *ApprovalService) Decide(ctx context.Context, id int64, req DecideRequest) (*DecideResult, error) {
	if len(req.Reason) > maxReasonLength {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}

	var status models.ApprovalStatus
	switch req.Decision {
	case DecisionApprove:
		status = models.ApprovalApproved
	case DecisionDecline:
		status = models.ApprovalDeclined
	case DecisionModify:
		status = models.ApprovalModified
	default:
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown decision %q", req.Decision))
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "api"
	}

	var payload map[string]interface{}
	if status == models.ApprovalModified {
		current, err := s.approvals.GetByID(ctx, id)
		if err != nil {
			return nil, s.notFoundOr(err, "failed to load approval")
		}
		payload, err = applyPayloadPatch(current.ProposedPayload, req.Patch)
		if err != nil {
			return nil, err
		}
	}

	approval, err := s.approvals.Decide(ctx, id, status, decidedBy, req.Reason, payload)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyDecided) {
			// Loser of a decision race observes the winner's result
			current, getErr := s.approvals.GetByID(ctx, id)
			if getErr != nil {
				return nil, s.notFoundOr(getErr, "failed to load approval")
			}
			return &DecideResult{Approval: current}, nil
		}
		return nil, s.notFoundOr(err, "failed to decide approval")
	}

	s.metrics.ApprovalsDecided.WithLabelValues(string(status)).Inc()

	result := &DecideResult{Approval: approval}

	switch status {
	case models.ApprovalApproved, models.ApprovalModified:
		job := &models.WorkflowJob{
			RuleKind: ruleKindFromPayload(approval.ProposedPayload),
			Subject:  approval.Subject,
			Action:   approval.Action,
			Payload:  approval.ProposedPayload,
			TraceID:  approval.TraceID,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			// The transition is durable; surface the enqueue failure
			// rather than pretending the action is on its way.
			return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "approval recorded but job enqueue failed")
		}
		result.JobID = job.ID
		s.audit(ctx, approval, models.OutcomeApproved, decidedBy)
	case models.ApprovalDeclined:
		s.audit(ctx, approval, models.OutcomeDeclined, decidedBy)
	}

	return result, nil
}

// Get returns one approval
func (s *ApprovalService) Get(ctx context.Context, id int64) (*models.Approval, error) {
	approval, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, s.notFoundOr(err, "failed to load approval")
	}
	return approval, nil
}

// List returns approvals, optionally filtered by status
func (s *ApprovalService) List(ctx context.Context, status string, limit int) ([]*models.Approval, error) {
	approvals, err := s.approvals.List(ctx, status, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to list approvals")
	}
	return approvals, nil
}

// ExpireOverdue marks pending approvals past their TTL as expired
func (s *ApprovalService) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.approvals.ExpireOverdue(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	if expired > 0 {
		s.logger.Info("expired overdue approvals", "count", expired)
	}
	return expired, nil
}

func (s *ApprovalService) audit(ctx context.Context, approval *models.Approval, outcome models.ActionOutcome, actor string) {
	entry := &models.ActionLogEntry{
		RuleName: ruleKindFromPayload(approval.ProposedPayload),
		Subject:  approval.Subject,
		Action:   approval.Action,
		Outcome:  outcome,
		Actor:    actor,
		TraceID:  approval.TraceID,
		Payload:  approval.ProposedPayload,
	}
	if err := s.actionLog.Append(ctx, entry); err != nil {
		s.logger.WithContext(ctx).Warn("failed to append audit entry",
			"approval_id", approval.ID, "outcome", outcome, "error", err)
	}
}

func (s *ApprovalService) notFoundOr(err error, detail string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.New(apperrors.KindNotFound, "approval not found")
	}
	return apperrors.Wrap(err, apperrors.KindUnavailable, detail)
}

// applyPayloadPatch applies an RFC 6902 patch to the stored payload
func applyPayloadPatch(payload map[string]interface{}, rawPatch json.RawMessage) (map[string]interface{}, error) {
	if len(rawPatch) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "modify decision requires a patch")
	}

	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "malformed patch")
	}

	original, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	patched, err := patch.Apply(original)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "patch does not apply to payload")
	}

	var out map[string]interface{}
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "patched payload is not an object")
	}
	return out, nil
}

func ruleKindFromPayload(payload map[string]interface{}) string {
	if kind, ok := payload["kind"].(string); ok && kind != "" {
		return kind
	}
	return "manual"
}
