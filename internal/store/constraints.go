package store

import (
	"strings"
)

// isUniqueViolation classifies err as a unique-constraint violation for the
// connection's dialect. Grounded on the now-retired dialect/sql/sqlgraph
// errors.go pattern: Postgres identified by SQLSTATE 23505, MySQL by error
// number 1062, SQLite by its driver's textual "UNIQUE constraint failed".
func (c *Conn) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch c.dialect {
	case Postgres:
		return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
	case MySQL:
		return strings.Contains(msg, "Error 1062") || strings.Contains(msg, "Duplicate entry")
	default:
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
	}
}

// isSerializationFailure reports whether err indicates a transaction was
// aborted due to a serialization conflict and should be retried at the
// session layer rather than surfaced as a hard StoreConflict.
func (c *Conn) isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch c.dialect {
	case Postgres:
		return strings.Contains(msg, "SQLSTATE 40001") || strings.Contains(msg, "could not serialize access")
	case MySQL:
		return strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Deadlock found")
	default:
		return strings.Contains(msg, "database is locked")
	}
}
