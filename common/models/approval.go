package models

import (
	"time"
)

// ApprovalStatus represents the lifecycle state of an approval
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDeclined ApprovalStatus = "declined"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalModified ApprovalStatus = "modified"
)

// RiskLevel classifies the blast radius of a proposed action
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ValidRisk reports whether s is a known risk level
func ValidRisk(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Approval is a proposed side-effecting action awaiting a human decision.
// Status leaves pending exactly once; decided_at is set when and only when
// it does.
// Maps to: approvals table
type Approval struct {
	ID              int64                  `db:"id" json:"id"`
	Subject         string                 `db:"subject" json:"subject"`
	Action          string                 `db:"action" json:"action"`
	RiskLevel       RiskLevel              `db:"risk_level" json:"risk_level"`
	Status          ApprovalStatus         `db:"status" json:"status"`
	ProposedPayload map[string]interface{} `db:"proposed_payload" json:"proposed_payload"`
	Requester       string                 `db:"requester" json:"requester"`
	DecidedBy       *string                `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt       *time.Time             `db:"decided_at" json:"decided_at,omitempty"`
	Decision        *string                `db:"decision" json:"decision,omitempty"`
	Reason          *string                `db:"reason" json:"reason,omitempty"`
	TTLSeconds      int64                  `db:"ttl_seconds" json:"ttl_seconds"`
	TraceID         string                 `db:"trace_id" json:"trace_id"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
}

// Decided reports whether the approval has left pending
func (a *Approval) Decided() bool {
	return a.Status != ApprovalPending
}
