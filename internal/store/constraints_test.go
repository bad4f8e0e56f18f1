package store

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockConn wires go-sqlmock behind a Conn for dialect-classification
// tests that need a crafted driver error without a real database.
func newMockConn(t *testing.T, dialect string) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return OpenDB(dialect, db), mock
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	conn, _ := newMockConn(t, Postgres)
	err := errors.New(`pq: duplicate key value violates unique constraint "catalog_aspects_versioned_uq" (SQLSTATE 23505)`)
	assert.True(t, conn.isUniqueViolation(err))
	assert.False(t, conn.isUniqueViolation(errors.New("connection refused")))
}

func TestIsUniqueViolation_MySQL(t *testing.T) {
	conn, _ := newMockConn(t, MySQL)
	err := errors.New("Error 1062: Duplicate entry '1' for key 'catalog_aspects_versioned_uq'")
	assert.True(t, conn.isUniqueViolation(err))
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	conn, _ := newMockConn(t, SQLite)
	err := errors.New("UNIQUE constraint failed: catalog_aspects.owning_urn, catalog_aspects.aspect_name, catalog_aspects.version")
	assert.True(t, conn.isUniqueViolation(err))
}

func TestIsSerializationFailure_MySQLDeadlock(t *testing.T) {
	conn, _ := newMockConn(t, MySQL)
	err := errors.New("Error 1213: Deadlock found when trying to get lock")
	assert.True(t, conn.isSerializationFailure(err))
}

func TestIsUniqueViolation_NilError(t *testing.T) {
	conn, _ := newMockConn(t, Postgres)
	assert.False(t, conn.isUniqueViolation(nil))
}
