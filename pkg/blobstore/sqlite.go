package blobstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/liliang-cn/annidx/pkg/annerr"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting a SQLiteStore
// run directly against the pool or bound to the orchestrator's single
// build/query transaction (spec §5).
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore realizes Store over a `blobs` table: id BLOB, data BLOB,
// length INTEGER. The UUID is the handle's identity; the SQLite rowid is
// the implementation-defined locator, stashed inside BlobHandle.rowID.
// Load and Remove (and so Update) look blobs up by the UUID column, not
// by rowID.
type SQLiteStore struct {
	q     Querier
	cache *lru.Cache[uuid.UUID, []float32]
}

// Rebind points the store at a different Querier, letting the
// orchestrator reuse a built index's in-memory state across a fresh
// per-query transaction instead of the one its build committed (spec
// §5: build and each query get their own transaction bracket).
func (s *SQLiteStore) Rebind(q Querier) { s.q = q }

// NewSQLiteStore wraps q. A cacheSize of 0 or less disables the
// materialize-floats cache; no default size is substituted.
func NewSQLiteStore(q Querier, cacheSize int) (*SQLiteStore, error) {
	s := &SQLiteStore{q: q}
	if cacheSize > 0 {
		c, err := lru.New[uuid.UUID, []float32](cacheSize)
		if err != nil {
			return nil, annerr.Wrap("blobstore.new", err)
		}
		s.cache = c
	}
	return s, nil
}

// CreateTable creates the backing table if absent. Called once by the
// orchestrator during store initialization, outside any build/query
// transaction.
func CreateTable(ctx context.Context, q Querier) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS blobs (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		id    BLOB NOT NULL UNIQUE,
		data  BLOB NOT NULL,
		length INTEGER NOT NULL
	);`
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return annerr.Wrap("blobstore.createTable", err)
	}
	return nil
}

func (s *SQLiteStore) Register(ctx context.Context, data []byte) (BlobHandle, error) {
	if len(data) < MinMalloc || len(data) > MaxMalloc {
		return BlobHandle{}, annerr.Wrap("blobstore.register", annerr.ErrInvalidHandle)
	}
	id := uuid.New()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO blobs (id, data, length) VALUES (?, ?, ?)`,
		id[:], data, len(data))
	if err != nil {
		return BlobHandle{}, annerr.Wrap("blobstore.register", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return BlobHandle{}, annerr.Wrap("blobstore.register", err)
	}
	return BlobHandle{ID: id, Length: uint32(len(data)), rowID: rowID}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, data []byte, prev BlobHandle) (BlobHandle, error) {
	if err := validateHandle(prev); err != nil {
		return BlobHandle{}, annerr.Wrap("blobstore.update", err)
	}
	next, err := s.Register(ctx, data)
	if err != nil {
		return BlobHandle{}, err
	}
	if err := s.Remove(ctx, prev); err != nil {
		return BlobHandle{}, err
	}
	return next, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, h BlobHandle) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, h.ID[:]); err != nil {
		return annerr.Wrap("blobstore.remove", err)
	}
	if s.cache != nil {
		s.cache.Remove(h.ID)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, h BlobHandle, cb func([]byte) error) error {
	if err := validateHandle(h); err != nil {
		return annerr.Wrap("blobstore.load", err)
	}
	var data []byte
	row := s.q.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, h.ID[:])
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return annerr.Wrap("blobstore.load", annerr.ErrPrecondition)
		}
		return annerr.Wrap("blobstore.load", err)
	}
	if uint32(len(data)) != h.Length {
		return annerr.Wrap("blobstore.load", fmt.Errorf("handle declares %d bytes, store has %d", h.Length, len(data)))
	}
	return cb(data)
}

func (s *SQLiteStore) MaterializeFloats(ctx context.Context, h BlobHandle) ([]float32, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(h.ID); ok {
			return v, nil
		}
	}
	var vec []float32
	err := s.Load(ctx, h, func(data []byte) error {
		decoded, err := DecodeFloats(data)
		if err != nil {
			return err
		}
		vec = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(h.ID, vec)
	}
	return vec, nil
}

var _ Store = (*SQLiteStore)(nil)
