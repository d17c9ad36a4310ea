package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

// ErrNotFound is returned when a row does not exist (or is soft-deleted)
var ErrNotFound = errors.New("not found")

// ErrAlreadyDecided is returned when a decision races against a prior one
var ErrAlreadyDecided = errors.New("approval already decided")

const approvalColumns = `
	id, subject, action, risk_level, status, proposed_payload, requester,
	decided_by, decided_at, decision, reason, ttl_seconds, trace_id, created_at
`

// ApprovalRepository handles database operations for approvals.
// All reads filter soft-deleted rows.
type ApprovalRepository struct {
	db *db.DB
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *db.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create inserts a new pending approval
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	payloadJSON, err := json.Marshal(approval.ProposedPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal proposed payload: %w", err)
	}

	approval.TTLSeconds = TTLOrDefault(approval.TTLSeconds)

	query := `
		INSERT INTO approvals (subject, action, risk_level, status, proposed_payload,
		                       requester, ttl_seconds, trace_id)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		approval.Subject,
		approval.Action,
		approval.RiskLevel,
		payloadJSON,
		approval.Requester,
		approval.TTLSeconds,
		approval.TraceID,
	).Scan(&approval.ID, &approval.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}

	approval.Status = models.ApprovalPending
	return nil
}

// PendingDuplicateExists reports whether a live pending approval for the same
// subject/action exists inside its TTL window
func (r *ApprovalRepository) PendingDuplicateExists(ctx context.Context, subject, action string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM approvals
			WHERE subject = $1 AND action = $2 AND status = 'pending'
			  AND deleted_at IS NULL
			  AND created_at + make_interval(secs => ttl_seconds) > now()
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, subject, action).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate approval: %w", err)
	}
	return exists, nil
}

// GetByID retrieves an approval by id
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1 AND deleted_at IS NULL`

	approval, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// List retrieves approvals, newest first, optionally filtered by status
func (r *ApprovalRepository) List(ctx context.Context, status string, limit int) ([]*models.Approval, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE deleted_at IS NULL AND ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		approval, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

// Decide transitions a pending approval exactly once. The conditional UPDATE
// is the serialization point: concurrent deciders race on it and the loser
// gets ErrAlreadyDecided along with the winner's final state.
func (r *ApprovalRepository) Decide(ctx context.Context, id int64, status models.ApprovalStatus, decidedBy, reason string, payload map[string]interface{}) (*models.Approval, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decided payload: %w", err)
	}

	query := `
		UPDATE approvals
		SET status = $2, decision = $2, decided_by = $3, reason = $4,
		    proposed_payload = $5, decided_at = now()
		WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
		RETURNING ` + approvalColumns

	approval, err := r.scanOne(r.db.QueryRow(ctx, query, id, status, decidedBy, reason, payloadJSON))
	if err == nil {
		return approval, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to decide approval: %w", err)
	}

	// Lost the race or the approval never existed.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, ErrAlreadyDecided
}

// ExpireOverdue marks pending approvals past their TTL as expired and returns
// how many were swept
func (r *ApprovalRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	query := `
		UPDATE approvals
		SET status = 'expired', decision = 'expired', decided_at = now()
		WHERE status = 'pending' AND deleted_at IS NULL
		  AND created_at + make_interval(secs => ttl_seconds) <= now()
	`

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	return result.RowsAffected(), nil
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanOne(row rowScanner) (*models.Approval, error) {
	approval := &models.Approval{}
	var payloadJSON []byte

	err := row.Scan(
		&approval.ID,
		&approval.Subject,
		&approval.Action,
		&approval.RiskLevel,
		&approval.Status,
		&payloadJSON,
		&approval.Requester,
		&approval.DecidedBy,
		&approval.DecidedAt,
		&approval.Decision,
		&approval.Reason,
		&approval.TTLSeconds,
		&approval.TraceID,
		&approval.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &approval.ProposedPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proposed payload: %w", err)
	}

	return approval, nil
}

// TTLOrDefault normalizes a requested TTL in seconds. Creation paths that do
// not ask for one get the 24h default instead of expiring on the next sweep.
func TTLOrDefault(seconds int64) int64 {
	if seconds <= 0 {
		return int64((24 * time.Hour).Seconds())
	}
	return seconds
}
