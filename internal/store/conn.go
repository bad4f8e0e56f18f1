// Package store implements the Graph Writer (SPEC_FULL.md §4.4): the
// narrow, transactional persistence API every other component funnels
// through. The labeled-property-graph contract is satisfied atop a
// relational store reached through database/sql (§4.4.1), generalizing
// the teacher's dialect/sql driver wrapper (Driver/Conn/Tx over
// database/sql) from a generic SQL dialect layer into the catalog's three
// fixed tables: entities, aspects, edges.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names, mirroring the teacher's dialect package constants.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Conn wraps a *sql.DB with the dialect it was opened against, the way
// dialect/sql.Driver wraps database/sql in the teacher repo.
type Conn struct {
	DB      *sql.DB
	dialect string
	cache   Cache
}

// Open opens a new database connection for the given driver name (one of
// "mysql", "postgres", "sqlite") and DSN.
func Open(driverName, dsn string) (*Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driverName, err)
	}
	return &Conn{DB: db, dialect: normalizeDialect(driverName)}, nil
}

// OpenDB wraps an already-open *sql.DB, e.g. one created for tests with
// sqlmock or an in-memory sqlite instance.
func OpenDB(dialect string, db *sql.DB) *Conn {
	return &Conn{DB: db, dialect: normalizeDialect(dialect)}
}

func normalizeDialect(name string) string {
	switch {
	case strings.HasPrefix(name, "postgres") || name == "pq":
		return Postgres
	case strings.HasPrefix(name, "mysql"):
		return MySQL
	default:
		return SQLite
	}
}

// Dialect returns the normalized dialect name.
func (c *Conn) Dialect() string { return c.dialect }

// WithCache attaches an optional read-through cache for hot lookups
// (GetLatestVersionedAspect in particular). Returns c for chaining.
func (c *Conn) WithCache(cache Cache) *Conn {
	c.cache = cache
	return c
}

// Close closes the underlying *sql.DB.
func (c *Conn) Close() error { return c.DB.Close() }

// autoIncrementPK returns the dialect-specific column definition for an
// auto-incrementing primary key.
func (c *Conn) autoIncrementPK() string {
	switch c.dialect {
	case Postgres:
		return "BIGSERIAL PRIMARY KEY"
	case MySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// jsonColumn returns the dialect-specific column type for a JSON document.
func (c *Conn) jsonColumn() string {
	if c.dialect == Postgres {
		return "JSONB"
	}
	return "TEXT"
}

// Bootstrap creates the three tables and their indices if absent
// (SPEC_FULL.md §4.4.1). It is idempotent and safe to call on every
// process start.
func (c *Conn) Bootstrap(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_entities (
			urn VARCHAR(1024) PRIMARY KEY,
			entity_type VARCHAR(255) NOT NULL,
			params %s NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, c.jsonColumn()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_aspects (
			id %s,
			owning_urn VARCHAR(1024) NOT NULL,
			aspect_name VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			ts_ms BIGINT NOT NULL DEFAULT 0,
			kind VARCHAR(16) NOT NULL,
			payload %s NOT NULL,
			latest BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`, c.autoIncrementPK(), c.jsonColumn()),

		`CREATE UNIQUE INDEX IF NOT EXISTS catalog_aspects_versioned_uq
			ON catalog_aspects (owning_urn, aspect_name, version)
			WHERE kind = 'versioned'`,

		`CREATE INDEX IF NOT EXISTS catalog_aspects_ts_idx
			ON catalog_aspects (owning_urn, aspect_name, ts_ms, id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_edges (
			src_urn VARCHAR(1024) NOT NULL,
			rel_type VARCHAR(255) NOT NULL,
			dst_urn VARCHAR(1024) NOT NULL,
			discriminator_hash VARCHAR(64) NOT NULL DEFAULT '',
			properties %s NOT NULL,
			via VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (src_urn, rel_type, dst_urn, discriminator_hash)
		)`, c.jsonColumn()),

		`CREATE INDEX IF NOT EXISTS catalog_edges_dst_idx ON catalog_edges (dst_urn, rel_type)`,
	}

	// MySQL has no WHERE-qualified index syntax, so the versioned-only
	// uniqueness constraint can't be expressed as a partial index here;
	// the plain index below only speeds up the lookup. The actual
	// uniqueness guarantee for MySQL comes from a GET_LOCK advisory lock
	// Writer.upsertVersionedAspect takes before computing the next
	// version (internal/store/writer.go) — a row-level FOR UPDATE can't
	// help the very-first-version race, since there's no row yet to lock.
	// Postgres and SQLite both support partial indexes and get the real
	// DB-level constraint; dropping the kind='versioned' filter here
	// would wrongly collide timeseries rows, which all share version=0.
	if c.dialect == MySQL {
		stmts[2] = `CREATE INDEX IF NOT EXISTS catalog_aspects_versioned_idx
			ON catalog_aspects (owning_urn, aspect_name, version)`
	}

	for _, stmt := range stmts {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}
