package models

import (
	"time"
)

// JobStatus represents the status of a workflow job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// WorkflowJob is a queued side effect ready for a runner to execute.
// Transitions: queued -> running -> (completed|failed), with running -> queued
// on retry while attempts < max_attempts. A job has at most one owner at a time.
// Maps to: workflow_jobs table
type WorkflowJob struct {
	ID          int64                  `db:"id" json:"id"`
	RuleKind    string                 `db:"rule_kind" json:"rule_kind"`
	Subject     string                 `db:"subject" json:"subject"`
	Action      string                 `db:"action" json:"action"`
	Status      JobStatus              `db:"status" json:"status"`
	Attempts    int                    `db:"attempts" json:"attempts"`
	MaxAttempts int                    `db:"max_attempts" json:"max_attempts"`
	LastError   *string                `db:"last_error" json:"last_error,omitempty"`
	Payload     map[string]interface{} `db:"payload" json:"payload"`
	TraceID     string                 `db:"trace_id" json:"trace_id"`
	RunAfter    time.Time              `db:"run_after" json:"run_after"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	StartedAt   *time.Time             `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
}

// Retriable reports whether a failed attempt may be requeued
func (j *WorkflowJob) Retriable() bool {
	return j.Attempts < j.MaxAttempts
}
