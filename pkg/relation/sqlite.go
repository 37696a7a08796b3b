package relation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/blobstore"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRelation realizes Relation over a single table: key INTEGER
// PRIMARY KEY, handle BLOB. table must already have been created by
// CreateTable.
type SQLiteRelation struct {
	q     Querier
	blobs blobstore.Store
	table string
}

// CreateTable creates the backing table for a relation named table if
// absent. Safe to call for both the main and centroid relations; each
// gets its own table.
func CreateTable(ctx context.Context, q Querier, table string) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key    INTEGER PRIMARY KEY,
		handle BLOB NOT NULL
	);`, table)
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return annerr.Wrap(table+".createTable", err)
	}
	return nil
}

// NewSQLiteRelation binds a relation to table, using blobs to materialize
// and mutate the blob payloads referenced by its records.
func NewSQLiteRelation(q Querier, blobs blobstore.Store, table string) *SQLiteRelation {
	return &SQLiteRelation{q: q, blobs: blobs, table: table}
}

// Rebind points the relation at a different Querier, letting the
// orchestrator reuse a built index's in-memory state across a fresh
// per-query transaction instead of the one its build committed (spec
// §5: build and each query get their own transaction bracket).
func (r *SQLiteRelation) Rebind(q Querier) { r.q = q }

func (r *SQLiteRelation) Scan(ctx context.Context, startKey int32, visit Visitor) error {
	query := fmt.Sprintf(`SELECT key, handle FROM %s WHERE key >= ? ORDER BY key ASC`, r.table)
	return r.scan(ctx, query, startKey, visit)
}

func (r *SQLiteRelation) ScanDesc(ctx context.Context, startKey int32, visit Visitor) error {
	query := fmt.Sprintf(`SELECT key, handle FROM %s WHERE key <= ? ORDER BY key DESC`, r.table)
	return r.scan(ctx, query, startKey, visit)
}

func (r *SQLiteRelation) scan(ctx context.Context, query string, startKey int32, visit Visitor) error {
	rows, err := r.q.QueryContext(ctx, query, startKey)
	if err != nil {
		return annerr.Wrap(r.table+".scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key int32
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return annerr.Wrap(r.table+".scan", err)
		}
		h, err := blobstore.UnmarshalHandle(raw)
		if err != nil {
			return annerr.Wrap(r.table+".scan", err)
		}
		more, err := visit(Record{Key: key, Handle: h})
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return annerr.Wrap(r.table+".scan", rows.Err())
}

func (r *SQLiteRelation) Insert(ctx context.Context, key int32, h blobstore.BlobHandle) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, handle) VALUES (?, ?)`, r.table)
	if _, err := r.q.ExecContext(ctx, query, key, h.Marshal()); err != nil {
		return annerr.Wrap(r.table+".insert", err)
	}
	return nil
}

func (r *SQLiteRelation) Lookup(ctx context.Context, key int32) (blobstore.BlobHandle, bool, error) {
	query := fmt.Sprintf(`SELECT handle FROM %s WHERE key = ?`, r.table)
	row := r.q.QueryRowContext(ctx, query, key)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return blobstore.BlobHandle{}, false, nil
		}
		return blobstore.BlobHandle{}, false, annerr.Wrap(r.table+".lookup", err)
	}
	h, err := blobstore.UnmarshalHandle(raw)
	if err != nil {
		return blobstore.BlobHandle{}, false, annerr.Wrap(r.table+".lookup", err)
	}
	return h, true, nil
}

func (r *SQLiteRelation) Update(ctx context.Context, key int32, data []byte) (blobstore.BlobHandle, error) {
	prev, ok, err := r.Lookup(ctx, key)
	if err != nil {
		return blobstore.BlobHandle{}, err
	}
	if !ok {
		return blobstore.BlobHandle{}, annerr.Wrap(r.table+".update", annerr.ErrPrecondition)
	}

	next, err := r.blobs.Update(ctx, data, prev)
	if err != nil {
		return blobstore.BlobHandle{}, err
	}

	query := fmt.Sprintf(`UPDATE %s SET handle = ? WHERE key = ?`, r.table)
	if _, err := r.q.ExecContext(ctx, query, next.Marshal(), key); err != nil {
		return blobstore.BlobHandle{}, annerr.Wrap(r.table+".update", err)
	}
	return next, nil
}

func (r *SQLiteRelation) MaterializeFloats(ctx context.Context, key int32) ([]float32, error) {
	h, ok, err := r.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, annerr.Wrap(r.table+".materializeFloats", annerr.ErrNotFound)
	}
	return r.blobs.MaterializeFloats(ctx, h)
}

func (r *SQLiteRelation) Count(ctx context.Context) (uint64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)
	row := r.q.QueryRowContext(ctx, query)
	var n uint64
	if err := row.Scan(&n); err != nil {
		return 0, annerr.Wrap(r.table+".count", err)
	}
	return n, nil
}

var _ Relation = (*SQLiteRelation)(nil)
