package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	catalog "github.com/syssam/metacatalog"
)

// Recorder receives write-path observations. internal/metrics implements
// this with Prometheus counters/histograms; nil is a valid no-op default.
type Recorder interface {
	ObserveWrite(op string, dur time.Duration, err error)
}

// Writer is the Graph Writer: the only component that touches SQL. The
// Operation Synthesizer (internal/synth) runs every write through it.
//
// Grounded on the teacher's dialect/sql.Tx wrapper for the begin/commit/
// rollback shape, generalized from an arbitrary ent mutation to the fixed
// set of catalog operations in SPEC_FULL.md §4.4.
type Writer struct {
	conn   *Conn
	cache  Cache
	logger *zap.Logger
	rec    Recorder
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger attaches a zap logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option { return func(w *Writer) { w.logger = l } }

// WithRecorder attaches a metrics recorder; defaults to a no-op.
func WithRecorder(r Recorder) Option { return func(w *Writer) { w.rec = r } }

type noopRecorder struct{}

func (noopRecorder) ObserveWrite(string, time.Duration, error) {}

// NewWriter builds a Writer over conn. If conn has no cache attached via
// WithCache, a process-local MemCache is used.
func NewWriter(conn *Conn, opts ...Option) *Writer {
	w := &Writer{conn: conn, cache: conn.cache, logger: zap.NewNop(), rec: noopRecorder{}}
	if w.cache == nil {
		w.cache = NewMemCache()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) observe(op string, start time.Time, err error) {
	w.rec.ObserveWrite(op, time.Since(start), err)
	if err != nil {
		w.logger.Warn("store op failed", zap.String("op", op), zap.Error(err))
	} else {
		w.logger.Debug("store op ok", zap.String("op", op), zap.Duration("dur", time.Since(start)))
	}
}

func marshalPayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	return json.Marshal(p)
}

// dbtx is the subset of *sql.DB / *sql.Tx every core write/read helper
// needs. Both satisfy it structurally, so the same SQL logic runs either
// standalone (auto-begin/commit against the pool) or as one step of a
// caller-managed *sql.Tx shared across several operations (see Tx below).
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertEntity creates or refreshes an entity node's row. Re-upserting an
// existing URN merges params (new keys win) and bumps updated_at, matching
// the idempotent-mutate semantics entity nodes need under repeated writes.
func (w *Writer) UpsertEntity(ctx context.Context, entityType string, urn catalog.URN, params map[string]any) (err error) {
	start := time.Now()
	defer func() { w.observe("UpsertEntity", start, err) }()

	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err = w.upsertEntity(ctx, tx, entityType, urn, params); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *Writer) upsertEntity(ctx context.Context, db dbtx, entityType string, urn catalog.URN, params map[string]any) error {
	now := time.Now().UTC()
	row := db.QueryRowContext(ctx, `SELECT params FROM catalog_entities WHERE urn = ?`, string(urn))
	var existing sql.NullString
	switch scanErr := row.Scan(&existing); scanErr {
	case nil:
		merged := map[string]any{}
		if existing.Valid && existing.String != "" {
			if jsonErr := json.Unmarshal([]byte(existing.String), &merged); jsonErr != nil {
				return fmt.Errorf("store: decode existing params: %w", jsonErr)
			}
		}
		for k, v := range params {
			merged[k] = v
		}
		buf, mErr := marshalPayload(merged)
		if mErr != nil {
			return fmt.Errorf("store: encode params: %w", mErr)
		}
		if _, err := db.ExecContext(ctx,
			`UPDATE catalog_entities SET params = ?, updated_at = ? WHERE urn = ?`,
			string(buf), now, string(urn)); err != nil {
			return fmt.Errorf("store: update entity: %w", err)
		}
	case sql.ErrNoRows:
		buf, mErr := marshalPayload(params)
		if mErr != nil {
			return fmt.Errorf("store: encode params: %w", mErr)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO catalog_entities (urn, entity_type, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			string(urn), entityType, string(buf), now, now); err != nil {
			return fmt.Errorf("store: insert entity: %w", err)
		}
	default:
		return fmt.Errorf("store: lookup entity: %w", scanErr)
	}
	return nil
}

// mysqlVersionLockName derives a deterministic, session-scoped advisory
// lock name for (urn, aspectName), hashed and truncated to stay within
// MySQL's 64-byte GET_LOCK name limit.
func mysqlVersionLockName(urn catalog.URN, aspectName string) string {
	sum := sha256.Sum256([]byte(string(urn) + "\x00" + aspectName))
	return "metacatalog_" + hex.EncodeToString(sum[:])[:16]
}

// acquireMySQLVersionLock serializes concurrent next-version computation
// on MySQL, which (unlike Postgres/SQLite) has no partial unique index to
// fall back on: a plain `SELECT MAX(version) ... FOR UPDATE` still loses
// the very-first-version race, since there's no existing row to lock.
// GET_LOCK is session-scoped, not transaction-scoped, but db here is
// always the *sql.Tx pinning this call's one physical connection for its
// lifetime, so acquiring and releasing through it is race-free.
func (w *Writer) acquireMySQLVersionLock(ctx context.Context, db dbtx, urn catalog.URN, aspectName string) error {
	name := mysqlVersionLockName(urn, aspectName)
	var got sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, 5)
	if err := row.Scan(&got); err != nil {
		return fmt.Errorf("store: acquire mysql version lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return &catalog.StoreConflictError{URN: urn, Aspect: aspectName, Attempts: 1,
			Err: fmt.Errorf("store: mysql version lock %q not acquired within timeout", name)}
	}
	return nil
}

func (w *Writer) releaseMySQLVersionLock(ctx context.Context, db dbtx, urn catalog.URN, aspectName string) {
	name := mysqlVersionLockName(urn, aspectName)
	var released sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT RELEASE_LOCK(?)`, name)
	_ = row.Scan(&released)
}

// UpsertVersionedAspect inserts the next version of aspectName on urn and
// flips the previous latest row's flag off, inside one transaction. On a
// concurrent writer racing for the same next version, the unique index on
// (owning_urn, aspect_name, version) rejects the loser on Postgres/SQLite;
// on MySQL (no partial-index support) a session-scoped GET_LOCK advisory
// lock keyed on (urn, aspectName) serializes the race instead. Either way
// the loser gets back a *catalog.StoreConflictError so the session
// Coordinator (§4.8) can retry with a fresh version number. Returns the
// version written.
func (w *Writer) UpsertVersionedAspect(ctx context.Context, urn catalog.URN, aspectName string, payload catalog.Payload) (version int64, err error) {
	start := time.Now()
	defer func() { w.observe("UpsertVersionedAspect", start, err) }()

	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err = w.upsertVersionedAspect(ctx, tx, urn, aspectName, payload)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		if w.conn.isUniqueViolation(err) || w.conn.isSerializationFailure(err) {
			return 0, &catalog.StoreConflictError{URN: urn, Aspect: aspectName, Attempts: 1, Err: err}
		}
		return 0, fmt.Errorf("store: commit: %w", err)
	}

	_ = w.cache.Delete(ctx, cacheKey(urn, aspectName))
	return version, nil
}

func (w *Writer) upsertVersionedAspect(ctx context.Context, db dbtx, urn catalog.URN, aspectName string, payload catalog.Payload) (int64, error) {
	if w.conn.dialect == MySQL {
		if err := w.acquireMySQLVersionLock(ctx, db, urn, aspectName); err != nil {
			return 0, err
		}
		defer w.releaseMySQLVersionLock(ctx, db, urn, aspectName)
	}

	var maxVersion sql.NullInt64
	row := db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM catalog_aspects WHERE owning_urn = ? AND aspect_name = ? AND kind = 'versioned'`,
		string(urn), aspectName)
	if scanErr := row.Scan(&maxVersion); scanErr != nil {
		return 0, fmt.Errorf("store: lookup max version: %w", scanErr)
	}
	version := int64(1)
	if maxVersion.Valid {
		version = maxVersion.Int64 + 1
	}

	if _, err := db.ExecContext(ctx,
		`UPDATE catalog_aspects SET latest = false WHERE owning_urn = ? AND aspect_name = ? AND kind = 'versioned' AND latest = true`,
		string(urn), aspectName); err != nil {
		return 0, fmt.Errorf("store: clear latest flag: %w", err)
	}

	buf, mErr := marshalPayload(payload)
	if mErr != nil {
		return 0, fmt.Errorf("store: encode payload: %w", mErr)
	}

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO catalog_aspects (owning_urn, aspect_name, version, ts_ms, kind, payload, latest, created_at)
		 VALUES (?, ?, ?, 0, 'versioned', ?, true, ?)`,
		string(urn), aspectName, version, string(buf), now); err != nil {
		if w.conn.isUniqueViolation(err) {
			return 0, &catalog.StoreConflictError{URN: urn, Aspect: aspectName, Attempts: 1, Err: err}
		}
		return 0, fmt.Errorf("store: insert aspect: %w", err)
	}

	return version, nil
}

// AppendTimeseriesAspect inserts a new timeseries row. Duplicate
// timestamps for the same (urn, aspect) are permitted as siblings
// (SPEC_FULL.md §9, resolved open question): no uniqueness is enforced on
// ts_ms, only on the synthetic id. Returns the timestamp written.
func (w *Writer) AppendTimeseriesAspect(ctx context.Context, urn catalog.URN, aspectName string, payload catalog.Payload, tsMs int64) (ts int64, err error) {
	start := time.Now()
	defer func() { w.observe("AppendTimeseriesAspect", start, err) }()
	return w.appendTimeseriesAspect(ctx, w.conn.DB, urn, aspectName, payload, tsMs)
}

func (w *Writer) appendTimeseriesAspect(ctx context.Context, db dbtx, urn catalog.URN, aspectName string, payload catalog.Payload, tsMs int64) (int64, error) {
	buf, mErr := marshalPayload(payload)
	if mErr != nil {
		return 0, fmt.Errorf("store: encode payload: %w", mErr)
	}

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO catalog_aspects (owning_urn, aspect_name, version, ts_ms, kind, payload, latest, created_at)
		 VALUES (?, ?, 0, ?, 'timeseries', ?, false, ?)`,
		string(urn), aspectName, tsMs, string(buf), now); err != nil {
		return 0, fmt.Errorf("store: insert timeseries aspect: %w", err)
	}
	return tsMs, nil
}

// CreateRelationship idempotently merges an edge: scalar properties in
// props overwrite (last write wins), array-valued properties union with
// whatever is already stored (SPEC_FULL.md §9, resolved open question).
func (w *Writer) CreateRelationship(ctx context.Context, srcURN catalog.URN, relType string, dstURN catalog.URN, discriminatorHash, via string, props map[string]any) (err error) {
	start := time.Now()
	defer func() { w.observe("CreateRelationship", start, err) }()

	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err = w.createRelationship(ctx, tx, srcURN, relType, dstURN, discriminatorHash, via, props); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *Writer) createRelationship(ctx context.Context, db dbtx, srcURN catalog.URN, relType string, dstURN catalog.URN, discriminatorHash, via string, props map[string]any) error {
	row := db.QueryRowContext(ctx,
		`SELECT properties FROM catalog_edges WHERE src_urn = ? AND rel_type = ? AND dst_urn = ? AND discriminator_hash = ?`,
		string(srcURN), relType, string(dstURN), discriminatorHash)
	var existing sql.NullString
	now := time.Now().UTC()
	switch scanErr := row.Scan(&existing); scanErr {
	case nil:
		merged := map[string]any{}
		if existing.Valid && existing.String != "" {
			if jsonErr := json.Unmarshal([]byte(existing.String), &merged); jsonErr != nil {
				return fmt.Errorf("store: decode existing edge properties: %w", jsonErr)
			}
		}
		mergeEdgeProperties(merged, props)
		buf, mErr := marshalPayload(merged)
		if mErr != nil {
			return fmt.Errorf("store: encode edge properties: %w", mErr)
		}
		if _, err := db.ExecContext(ctx,
			`UPDATE catalog_edges SET properties = ?, via = ? WHERE src_urn = ? AND rel_type = ? AND dst_urn = ? AND discriminator_hash = ?`,
			string(buf), via, string(srcURN), relType, string(dstURN), discriminatorHash); err != nil {
			return fmt.Errorf("store: update edge: %w", err)
		}
	case sql.ErrNoRows:
		buf, mErr := marshalPayload(props)
		if mErr != nil {
			return fmt.Errorf("store: encode edge properties: %w", mErr)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO catalog_edges (src_urn, rel_type, dst_urn, discriminator_hash, properties, via, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(srcURN), relType, string(dstURN), discriminatorHash, string(buf), via, now); err != nil {
			return fmt.Errorf("store: insert edge: %w", err)
		}
	default:
		return fmt.Errorf("store: lookup edge: %w", scanErr)
	}
	return nil
}

// mergeEdgeProperties applies last-write-wins for scalars and set-union for
// arrays, writing the result into dst in place.
func mergeEdgeProperties(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		existingArr, existingIsArr := existing.([]any)
		newArr, newIsArr := v.([]any)
		if existingIsArr && newIsArr {
			dst[k] = unionAny(existingArr, newArr)
			continue
		}
		dst[k] = v
	}
}

func unionAny(a, b []any) []any {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	add := func(v any) {
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, v)
	}
	for _, v := range a {
		add(v)
	}
	for _, v := range b {
		add(v)
	}
	return out
}

// DeleteEntity removes an entity and, when cascade is true, every aspect
// and edge touching its URN. When cascade is false and the URN still owns
// aspects or is referenced by edges (as either endpoint), the delete is
// refused with *catalog.DependencyViolationError.
func (w *Writer) DeleteEntity(ctx context.Context, urn catalog.URN, cascade bool) (err error) {
	start := time.Now()
	defer func() { w.observe("DeleteEntity", start, err) }()

	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if !cascade {
		var count int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM catalog_edges WHERE src_urn = ? OR dst_urn = ?`, string(urn), string(urn))
		if scanErr := row.Scan(&count); scanErr != nil {
			return fmt.Errorf("store: count edges: %w", scanErr)
		}
		var aspects int
		row = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_aspects WHERE owning_urn = ?`, string(urn))
		if scanErr := row.Scan(&aspects); scanErr != nil {
			return fmt.Errorf("store: count aspects: %w", scanErr)
		}
		if count > 0 || aspects > 0 {
			return &catalog.DependencyViolationError{URN: urn, AspectCount: aspects, IncomingEdgeCount: count}
		}
	} else {
		if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_edges WHERE src_urn = ? OR dst_urn = ?`, string(urn), string(urn)); err != nil {
			return fmt.Errorf("store: cascade delete edges: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_aspects WHERE owning_urn = ?`, string(urn)); err != nil {
		return fmt.Errorf("store: delete aspects: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM catalog_entities WHERE urn = ?`, string(urn))
	if err != nil {
		return fmt.Errorf("store: delete entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return &catalog.NotFoundError{URN: urn}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	_ = w.cache.DeletePrefix(ctx, string(urn)+"\x00")
	return nil
}

// DeleteAspect removes every version (or every timeseries point) of
// aspectName on urn (SPEC_FULL.md §9: delete_aspect removes all versions,
// not just the latest).
func (w *Writer) DeleteAspect(ctx context.Context, urn catalog.URN, aspectName string) (err error) {
	start := time.Now()
	defer func() { w.observe("DeleteAspect", start, err) }()

	res, err := w.conn.DB.ExecContext(ctx,
		`DELETE FROM catalog_aspects WHERE owning_urn = ? AND aspect_name = ?`, string(urn), aspectName)
	if err != nil {
		return fmt.Errorf("store: delete aspect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return &catalog.NotFoundError{URN: urn, Aspect: aspectName}
	}
	_ = w.cache.Delete(ctx, cacheKey(urn, aspectName))
	return nil
}

// GetEntity loads an entity node by URN.
func (w *Writer) GetEntity(ctx context.Context, urn catalog.URN) (*Entity, error) {
	return w.getEntity(ctx, w.conn.DB, urn)
}

func (w *Writer) getEntity(ctx context.Context, db dbtx, urn catalog.URN) (*Entity, error) {
	row := db.QueryRowContext(ctx,
		`SELECT entity_type, params, created_at, updated_at FROM catalog_entities WHERE urn = ?`, string(urn))

	var e Entity
	e.URN = urn
	var paramsJSON string
	if err := row.Scan(&e.EntityType, &paramsJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &catalog.NotFoundError{URN: urn}
		}
		return nil, fmt.Errorf("store: get entity: %w", err)
	}
	e.Params = map[string]any{}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
			return nil, fmt.Errorf("store: decode params: %w", err)
		}
	}
	return &e, nil
}

func cacheKey(urn catalog.URN, aspect string) string {
	return string(urn) + "\x00" + aspect
}

// GetLatestVersionedAspect returns the current latest=true row for
// (urn, aspectName), consulting the cache first.
func (w *Writer) GetLatestVersionedAspect(ctx context.Context, urn catalog.URN, aspectName string) (*AspectRecord, error) {
	key := cacheKey(urn, aspectName)
	if cached, err := w.cache.Get(ctx, key); err == nil && cached != nil {
		var rec AspectRecord
		if jsonErr := json.Unmarshal(cached, &rec); jsonErr == nil {
			return &rec, nil
		}
	}

	row := w.conn.DB.QueryRowContext(ctx,
		`SELECT id, version, payload, created_at FROM catalog_aspects
		 WHERE owning_urn = ? AND aspect_name = ? AND kind = 'versioned' AND latest = true`,
		string(urn), aspectName)

	rec := AspectRecord{URN: urn, Aspect: aspectName, Kind: "versioned", Latest: true}
	var payloadJSON string
	if err := row.Scan(&rec.ID, &rec.Version, &payloadJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &catalog.NotFoundError{URN: urn, Aspect: aspectName}
		}
		return nil, fmt.Errorf("store: get latest aspect: %w", err)
	}
	rec.Payload = catalog.Payload{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("store: decode payload: %w", err)
		}
	}

	if buf, err := json.Marshal(rec); err == nil {
		_ = w.cache.Set(ctx, key, buf, 30*time.Second)
	}
	return &rec, nil
}

// GetTimeseriesRange returns timeseries rows for (urn, aspectName) with
// ts_ms in [fromMs, toMs], ordered oldest first.
func (w *Writer) GetTimeseriesRange(ctx context.Context, urn catalog.URN, aspectName string, fromMs, toMs int64) ([]*AspectRecord, error) {
	rows, err := w.conn.DB.QueryContext(ctx,
		`SELECT id, ts_ms, payload, created_at FROM catalog_aspects
		 WHERE owning_urn = ? AND aspect_name = ? AND kind = 'timeseries' AND ts_ms >= ? AND ts_ms <= ?
		 ORDER BY ts_ms ASC, id ASC`,
		string(urn), aspectName, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("store: query timeseries range: %w", err)
	}
	defer rows.Close()

	var out []*AspectRecord
	for rows.Next() {
		rec := AspectRecord{URN: urn, Aspect: aspectName, Kind: "timeseries"}
		var payloadJSON string
		if err := rows.Scan(&rec.ID, &rec.TsMs, &payloadJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan timeseries row: %w", err)
		}
		rec.Payload = catalog.Payload{}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return nil, fmt.Errorf("store: decode payload: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Tx binds a sequence of Writer operations to one shared *sql.Tx, so a
// caller that needs several writes to commit or roll back as a single
// unit — the entity upsert, aspect upsert, and triggered relationship
// writes of one logical write request (SPEC_FULL.md §5) — can run them
// inside one transaction instead of each opening its own.
type Tx struct {
	w          *Writer
	tx         *sql.Tx
	urn        catalog.URN
	aspect     string
	invalidate []string
}

// BeginTx opens a new shared transaction. Callers must defer Rollback
// (safe to call after a successful Commit) and call Commit exactly once
// on success.
func (w *Writer) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &Tx{w: w, tx: tx}, nil
}

// UpsertEntity runs the entity upsert against the shared transaction.
func (t *Tx) UpsertEntity(ctx context.Context, entityType string, urn catalog.URN, params map[string]any) error {
	return t.w.upsertEntity(ctx, t.tx, entityType, urn, params)
}

// UpsertVersionedAspect runs the versioned-aspect upsert against the
// shared transaction, recording the touched cache key for invalidation
// once the whole transaction commits.
func (t *Tx) UpsertVersionedAspect(ctx context.Context, urn catalog.URN, aspectName string, payload catalog.Payload) (int64, error) {
	version, err := t.w.upsertVersionedAspect(ctx, t.tx, urn, aspectName, payload)
	if err != nil {
		return 0, err
	}
	t.urn, t.aspect = urn, aspectName
	t.invalidate = append(t.invalidate, cacheKey(urn, aspectName))
	return version, nil
}

// AppendTimeseriesAspect runs the timeseries insert against the shared
// transaction.
func (t *Tx) AppendTimeseriesAspect(ctx context.Context, urn catalog.URN, aspectName string, payload catalog.Payload, tsMs int64) (int64, error) {
	return t.w.appendTimeseriesAspect(ctx, t.tx, urn, aspectName, payload, tsMs)
}

// CreateRelationship runs the edge upsert against the shared transaction.
func (t *Tx) CreateRelationship(ctx context.Context, srcURN catalog.URN, relType string, dstURN catalog.URN, discriminatorHash, via string, props map[string]any) error {
	return t.w.createRelationship(ctx, t.tx, srcURN, relType, dstURN, discriminatorHash, via, props)
}

// GetEntity reads through the shared transaction, so a read-your-writes
// check (e.g. "does the auto-create destination already exist") sees
// rows this same transaction has already written.
func (t *Tx) GetEntity(ctx context.Context, urn catalog.URN) (*Entity, error) {
	return t.w.getEntity(ctx, t.tx, urn)
}

// Commit commits every operation run on t as a single unit. A commit-time
// unique-constraint or serialization failure is classified into
// *catalog.StoreConflictError against the last versioned aspect written,
// mirroring the standalone UpsertVersionedAspect path, so the session
// Coordinator's retry loop (§4.8) treats the whole logical write the same
// way whether it failed on the aspect insert or on a later step sharing
// this transaction. Cache invalidation only happens once Commit succeeds.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if t.aspect != "" && (t.w.conn.isUniqueViolation(err) || t.w.conn.isSerializationFailure(err)) {
			return &catalog.StoreConflictError{URN: t.urn, Aspect: t.aspect, Attempts: 1, Err: err}
		}
		return fmt.Errorf("store: commit: %w", err)
	}
	for _, key := range t.invalidate {
		_ = t.w.cache.Delete(ctx, key)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call unconditionally via
// defer after a successful Commit: *sql.Tx.Rollback returns
// sql.ErrTxDone in that case, which callers ignore.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
