package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leadforge/leadforge/internal/database/schema"
)

// InitializeDatabase creates all tables and indexes if they don't exist.
// It is safe to run on every start.
func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	for _, query := range schema.TableDefinitions {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, query := range schema.IndexDefinitions {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
