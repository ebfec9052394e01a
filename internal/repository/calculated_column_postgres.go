package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/leadforge/leadforge/internal/domain"
)

var calculatedColumnFields = []string{
	"id", "owner_id", "column_name", "formula", "formula_type", "result_type",
	"is_active", "cache_duration", "created_at", "updated_at",
}

// CalculatedColumnRepository implements domain.CalculatedColumnRepository for PostgreSQL
type CalculatedColumnRepository struct {
	db *sql.DB
}

func NewCalculatedColumnRepository(db *sql.DB) *CalculatedColumnRepository {
	return &CalculatedColumnRepository{db: db}
}

// Create inserts a new column definition
func (r *CalculatedColumnRepository) Create(ctx context.Context, column *domain.CalculatedColumn) error {
	now := time.Now().UTC()
	column.CreatedAt = now
	column.UpdatedAt = now

	query := `
		INSERT INTO calculated_columns (
			id, owner_id, column_name, formula, formula_type, result_type,
			is_active, cache_duration, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		column.ID,
		column.OwnerID,
		column.ColumnName,
		column.Formula,
		string(column.FormulaType),
		string(column.ResultType),
		column.IsActive,
		nullableInt(column.CacheDuration),
		column.CreatedAt,
		column.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ErrColumnNameTaken{ColumnName: column.ColumnName}
		}
		return fmt.Errorf("failed to create calculated column: %w", err)
	}

	return nil
}

// GetByID returns the owner's column or ErrNotFound
func (r *CalculatedColumnRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.CalculatedColumn, error) {
	query, args, err := psql.
		Select(calculatedColumnFields...).
		From("calculated_columns").
		Where(sq.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	column, err := scanCalculatedColumn(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "calculated column", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculated column: %w", err)
	}
	return column, nil
}

// List returns the owner's columns ordered by name
func (r *CalculatedColumnRepository) List(ctx context.Context, ownerID string, filter domain.CalculatedColumnFilter) ([]*domain.CalculatedColumn, error) {
	where := sq.Eq{"owner_id": ownerID}
	if filter.ActiveOnly {
		where["is_active"] = true
	}
	if filter.ColumnName != "" {
		where["column_name"] = filter.ColumnName
	}

	query, args, err := psql.
		Select(calculatedColumnFields...).
		From("calculated_columns").
		Where(where).
		OrderBy("column_name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculated columns: %w", err)
	}
	defer rows.Close()

	columns := make([]*domain.CalculatedColumn, 0)
	for rows.Next() {
		column, err := scanCalculatedColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculated column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calculated columns: %w", err)
	}

	return columns, nil
}

// Update replaces the editable fields. When invalidateResults is set the
// column's cached results are deleted in the same transaction.
func (r *CalculatedColumnRepository) Update(ctx context.Context, column *domain.CalculatedColumn, invalidateResults bool) error {
	column.UpdatedAt = time.Now().UTC()

	return WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE calculated_columns
			SET column_name = $3, formula = $4, formula_type = $5, result_type = $6,
				is_active = $7, cache_duration = $8, updated_at = $9
			WHERE id = $1 AND owner_id = $2
		`,
			column.ID,
			column.OwnerID,
			column.ColumnName,
			column.Formula,
			string(column.FormulaType),
			string(column.ResultType),
			column.IsActive,
			nullableInt(column.CacheDuration),
			column.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ErrColumnNameTaken{ColumnName: column.ColumnName}
			}
			return fmt.Errorf("failed to update calculated column: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return &domain.ErrNotFound{Entity: "calculated column", ID: column.ID}
		}

		if invalidateResults {
			if _, err := tx.ExecContext(ctx, `DELETE FROM calculated_results WHERE column_id = $1`, column.ID); err != nil {
				return fmt.Errorf("failed to invalidate cached results: %w", err)
			}
		}
		return nil
	})
}

// Delete removes the column and its cached results
func (r *CalculatedColumnRepository) Delete(ctx context.Context, ownerID, id string) error {
	return WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM calculated_columns WHERE id = $1 AND owner_id = $2`,
			id, ownerID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete calculated column: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return &domain.ErrNotFound{Entity: "calculated column", ID: id}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM calculated_results WHERE column_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete cached results: %w", err)
		}
		return nil
	})
}

func scanCalculatedColumn(scanner rowScanner) (*domain.CalculatedColumn, error) {
	var (
		column        domain.CalculatedColumn
		formulaType   string
		resultType    string
		cacheDuration sql.NullInt64
	)

	if err := scanner.Scan(
		&column.ID,
		&column.OwnerID,
		&column.ColumnName,
		&column.Formula,
		&formulaType,
		&resultType,
		&column.IsActive,
		&cacheDuration,
		&column.CreatedAt,
		&column.UpdatedAt,
	); err != nil {
		return nil, err
	}

	column.FormulaType = domain.FormulaType(formulaType)
	column.ResultType = domain.ResultType(resultType)
	if cacheDuration.Valid {
		d := int(cacheDuration.Int64)
		column.CacheDuration = &d
	}
	return &column, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
