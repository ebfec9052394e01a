package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadforge/leadforge/internal/domain"
)

// PreferenceRepository stores per-owner JSON preferences
type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get retrieves a preference by key
func (r *PreferenceRepository) Get(ctx context.Context, ownerID, key string) (*domain.Preference, error) {
	var pref domain.Preference
	var value []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT owner_id, key, value, created_at, updated_at FROM user_preferences WHERE owner_id = $1 AND key = $2",
		ownerID, key,
	).Scan(&pref.OwnerID, &pref.Key, &value, &pref.CreatedAt, &pref.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.ErrNotFound{Entity: "preference", ID: key}
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	pref.Value = value
	return &pref, nil
}

// Set creates or updates a preference
func (r *PreferenceRepository) Set(ctx context.Context, ownerID, key string, value json.RawMessage) error {
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_preferences (owner_id, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, key)
		DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, ownerID, key, []byte(value), now, now)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// Delete removes a preference by key
func (r *PreferenceRepository) Delete(ctx context.Context, ownerID, key string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM user_preferences WHERE owner_id = $1 AND key = $2",
		ownerID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return requireAffected(result, "preference", key)
}
