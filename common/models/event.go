package models

import (
	"time"
)

// EventRecord is a normalized webhook delivery. Rows are immutable after
// insert; delivery_id is the global idempotency key.
// Maps to: events table
type EventRecord struct {
	ID         int64             `db:"id" json:"id"`
	Source     string            `db:"source" json:"source"`
	EventType  string            `db:"event_type" json:"event_type"`
	DeliveryID string            `db:"delivery_id" json:"delivery_id"`
	Signature  *string           `db:"signature" json:"signature,omitempty"`
	Headers    map[string]string `db:"headers" json:"headers"`
	Payload    string            `db:"payload" json:"payload"`
	ReceivedAt time.Time         `db:"received_at" json:"received_at"`
}

// InternalSource marks records the gateway writes about itself
const InternalSource = "self"
