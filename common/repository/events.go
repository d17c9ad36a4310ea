package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

// EventRepository is the exclusive writer for the events table
type EventRepository struct {
	db *db.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *db.DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertIdempotent appends an event record. If a record with the same
// delivery_id already exists the insert is a no-op and the surviving row's id
// is returned with inserted=false.
func (r *EventRepository) InsertIdempotent(ctx context.Context, record *models.EventRecord) (int64, bool, error) {
	headersJSON, err := json.Marshal(record.Headers)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO events (source, event_type, delivery_id, signature, headers, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (delivery_id) DO NOTHING
		RETURNING id
	`

	var id int64
	err = r.db.QueryRow(ctx, query,
		record.Source,
		record.EventType,
		record.DeliveryID,
		record.Signature,
		headersJSON,
		record.Payload,
		record.ReceivedAt,
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}

	// No row returned means the conflict path was taken; report the winner.
	existing, lookupErr := r.FindIDByDeliveryID(ctx, record.DeliveryID)
	if lookupErr != nil {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}
	return existing, false, nil
}

// FindIDByDeliveryID returns the id of the record holding a delivery id
func (r *EventRepository) FindIDByDeliveryID(ctx context.Context, deliveryID string) (int64, error) {
	query := `SELECT id FROM events WHERE delivery_id = $1`

	var id int64
	if err := r.db.QueryRow(ctx, query, deliveryID).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to find event by delivery_id: %w", err)
	}
	return id, nil
}

// ExistsByDeliveryID checks whether a delivery has been seen before
func (r *EventRepository) ExistsByDeliveryID(ctx context.Context, deliveryID string) (int64, bool, error) {
	query := `SELECT id FROM events WHERE delivery_id = $1`

	var id int64
	err := r.db.QueryRow(ctx, query, deliveryID).Scan(&id)
	if err != nil {
		// pgx.ErrNoRows and transport errors both land here; treat no-row as
		// not-seen and let the idempotent insert settle real races.
		return 0, false, nil
	}
	return id, true, nil
}

// GetByID retrieves a single event record
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.EventRecord, error) {
	query := `
		SELECT id, source, event_type, delivery_id, signature, headers, payload, received_at
		FROM events
		WHERE id = $1
	`

	record := &models.EventRecord{}
	var headersJSON []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.Source,
		&record.EventType,
		&record.DeliveryID,
		&record.Signature,
		&headersJSON,
		&record.Payload,
		&record.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if err := json.Unmarshal(headersJSON, &record.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	return record, nil
}

// PurgeOlderThan deletes records past the retention horizon and returns the
// number of rows removed
func (r *EventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM events WHERE received_at < $1`

	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountBySource returns per-source row counts since a point in time
func (r *EventRepository) CountBySource(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT source, count(*)
		FROM events
		WHERE received_at >= $1
		GROUP BY source
	`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[source] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}

	return counts, nil
}
