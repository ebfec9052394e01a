package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leadforge/leadforge/internal/domain"
)

// CalculatedResultRepository implements domain.CalculatedResultRepository for PostgreSQL
type CalculatedResultRepository struct {
	db *sql.DB
}

func NewCalculatedResultRepository(db *sql.DB) *CalculatedResultRepository {
	return &CalculatedResultRepository{db: db}
}

// GetValid returns the cached result when it exists, has not expired and
// belongs to a column owned by ownerID. A miss returns nil, nil.
func (r *CalculatedResultRepository) GetValid(ctx context.Context, ownerID, columnID, leadID string, now time.Time) (*domain.CalculatedResult, error) {
	query := `
		SELECT r.column_id, r.lead_id, r.result_value, r.computed_at, r.expires_at
		FROM calculated_results r
		JOIN calculated_columns c ON c.id = r.column_id
		WHERE r.column_id = $1 AND r.lead_id = $2 AND c.owner_id = $3
			AND (r.expires_at IS NULL OR r.expires_at > $4)
	`

	var (
		result    domain.CalculatedResult
		value     []byte
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, columnID, leadID, ownerID, now).Scan(
		&result.ColumnID,
		&result.LeadID,
		&value,
		&result.ComputedAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached result: %w", err)
	}

	result.Value = value
	if expiresAt.Valid {
		result.ExpiresAt = &expiresAt.Time
	}
	return &result, nil
}

// Upsert writes the result, replacing any previous value for the pair, but only
// while the column's updated_at still equals result.ColumnVersion. A result
// computed from a definition that was edited or deleted meanwhile is dropped
// and Upsert returns false.
func (r *CalculatedResultRepository) Upsert(ctx context.Context, result *domain.CalculatedResult) (bool, error) {
	value := []byte(result.Value)
	if len(value) == 0 {
		value = []byte("null")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO calculated_results (column_id, lead_id, result_value, computed_at, expires_at)
		SELECT $1::uuid, $2::varchar, $3::jsonb, $4::timestamptz, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM calculated_columns c WHERE c.id = $1::uuid AND c.updated_at = $6::timestamptz)
		ON CONFLICT (column_id, lead_id)
		DO UPDATE SET
			result_value = EXCLUDED.result_value,
			computed_at = EXCLUDED.computed_at,
			expires_at = EXCLUDED.expires_at
	`,
		result.ColumnID,
		result.LeadID,
		value,
		result.ComputedAt,
		nullableTime(result.ExpiresAt),
		result.ColumnVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert cached result: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteByColumn removes every cached result of an owner's column
func (r *CalculatedResultRepository) DeleteByColumn(ctx context.Context, ownerID, columnID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM calculated_results
		WHERE column_id = $1
			AND EXISTS (SELECT 1 FROM calculated_columns c WHERE c.id = $1 AND c.owner_id = $2)
	`, columnID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cached results: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

// DeleteExpired removes results whose expiry is at or before now
func (r *CalculatedResultRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calculated_results WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
