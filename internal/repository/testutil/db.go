package testutil

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// SetupMockDB opens a sqlmock connection. The returned cleanup closes it; call
// mock.ExpectationsWereMet before cleanup when the test cares about leftovers.
func SetupMockDB(t *testing.T, opts ...sqlmock.SqlMockOption) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(opts...)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return db, mock, cleanup
}
