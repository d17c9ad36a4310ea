package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

// IdentityRepository maps external accounts to internal users
type IdentityRepository struct {
	db *db.DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *db.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Upsert creates or updates the mapping for (external_type, external_id)
func (r *IdentityRepository) Upsert(ctx context.Context, identity *models.Identity) error {
	metadataJSON, err := json.Marshal(identity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal identity metadata: %w", err)
	}

	query := `
		INSERT INTO identities (external_type, external_id, user_id, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_type, external_id)
		DO UPDATE SET user_id = EXCLUDED.user_id, metadata = EXCLUDED.metadata
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		identity.ExternalType,
		identity.ExternalID,
		identity.UserID,
		metadataJSON,
	).Scan(&identity.ID, &identity.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// Lookup resolves an external account to an identity
func (r *IdentityRepository) Lookup(ctx context.Context, externalType, externalID string) (*models.Identity, error) {
	query := `
		SELECT id, external_type, external_id, user_id, metadata, created_at
		FROM identities
		WHERE external_type = $1 AND external_id = $2
	`

	identity := &models.Identity{}
	var metadataJSON []byte
	err := r.db.QueryRow(ctx, query, externalType, externalID).Scan(
		&identity.ID,
		&identity.ExternalType,
		&identity.ExternalID,
		&identity.UserID,
		&metadataJSON,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup identity: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &identity.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity metadata: %w", err)
	}

	return identity, nil
}
