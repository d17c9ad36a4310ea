package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

// ActionLogRepository appends to and reads the audit trail
type ActionLogRepository struct {
	db *db.DB
}

// NewActionLogRepository creates a new action log repository
func NewActionLogRepository(db *db.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Append writes an audit entry
func (r *ActionLogRepository) Append(ctx context.Context, entry *models.ActionLogEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO action_log (rule_name, subject, action, outcome, actor, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		entry.RuleName,
		entry.Subject,
		entry.Action,
		entry.Outcome,
		entry.Actor,
		entry.TraceID,
		payloadJSON,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}
	return nil
}

// RecentProposalExists reports whether a proposal for (rule, subject) was
// logged inside the window. The evaluator uses this for per-cycle dedup.
func (r *ActionLogRepository) RecentProposalExists(ctx context.Context, ruleName, subject string, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM action_log
			WHERE rule_name = $1 AND subject = $2 AND outcome = 'proposed'
			  AND created_at > now() - $3
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, ruleName, subject, window).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent proposals: %w", err)
	}
	return exists, nil
}

// ListBySubject retrieves the audit trail for a subject, newest first
func (r *ActionLogRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*models.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, rule_name, subject, action, outcome, actor, trace_id, payload, created_at
		FROM action_log
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActionLogEntry
	for rows.Next() {
		entry := &models.ActionLogEntry{}
		var payloadJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.RuleName,
			&entry.Subject,
			&entry.Action,
			&entry.Outcome,
			&entry.Actor,
			&entry.TraceID,
			&payloadJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action log entry: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action log: %w", err)
	}

	return entries, nil
}
