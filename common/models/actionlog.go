package models

import (
	"time"
)

// ActionOutcome is the audited result of a propose/decide/execute step
type ActionOutcome string

const (
	OutcomeProposed ActionOutcome = "proposed"
	OutcomeApproved ActionOutcome = "approved"
	OutcomeDeclined ActionOutcome = "declined"
	OutcomeExecuted ActionOutcome = "executed"
	OutcomeFailed   ActionOutcome = "failed"
)

// ActionLogEntry is an append-only audit record. Writes to it never fail the
// primary operation.
// Maps to: action_log table
type ActionLogEntry struct {
	ID        int64                  `db:"id" json:"id"`
	RuleName  string                 `db:"rule_name" json:"rule_name"`
	Subject   string                 `db:"subject" json:"subject"`
	Action    string                 `db:"action" json:"action"`
	Outcome   ActionOutcome          `db:"outcome" json:"outcome"`
	Actor     string                 `db:"actor" json:"actor"`
	TraceID   string                 `db:"trace_id" json:"trace_id"`
	Payload   map[string]interface{} `db:"payload" json:"payload"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
