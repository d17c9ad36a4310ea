package models

import (
	"time"
)

// Identity maps an external account (github login, slack member id, ...) to an
// internal user id. (external_type, external_id) is unique.
// Maps to: identities table
type Identity struct {
	ID           int64             `db:"id" json:"id"`
	ExternalType string            `db:"external_type" json:"external_type"`
	ExternalID   string            `db:"external_id" json:"external_id"`
	UserID       string            `db:"user_id" json:"user_id"`
	Metadata     map[string]string `db:"metadata" json:"metadata"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}
