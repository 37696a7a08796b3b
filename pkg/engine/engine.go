// Package engine orchestrates the blob store, the two relations, the
// distance kernel, and whichever VectorIndex a Config selects behind the
// single build-transaction / per-query-transaction contract (spec §5):
// the index engines never see a *sql.DB directly, only a Querier bound to
// whatever transaction the orchestrator opened for the call in progress.
package engine

import (
	"context"
	"database/sql"
	"math/rand"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/blobstore"
	"github.com/liliang-cn/annidx/pkg/distance"
	"github.com/liliang-cn/annidx/pkg/index"
	"github.com/liliang-cn/annidx/pkg/relation"
)

const (
	mainTable     = "vectors"
	centroidTable = "centroids"
)

// Engine is the top-level handle a CLI or embedding application opens: it
// owns the SQLite connection and dispatches Build/Query through whichever
// index.VectorIndex the Config names.
type Engine struct {
	cfg Config
	log Logger
	db  *sql.DB

	idx index.VectorIndex

	// blobs/mainRel/centroidRel are the concrete store/relation handles
	// the built idx closes over. Build binds them to its own
	// transaction; FindNClosest rebinds them to a fresh per-query
	// transaction (spec §5) before delegating, then releases it.
	blobs       *blobstore.SQLiteStore
	mainRel     *relation.SQLiteRelation
	centroidRel *relation.SQLiteRelation
}

// Open opens (creating if absent) the SQLite database at cfg.Path,
// creates the blobs and vectors tables (plus the centroids table when
// IVFFLAT is selected) outside any transaction, and returns an Engine
// ready for Load and Build.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = NopLogger()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, annerr.Wrap("engine.open", err)
	}
	if cfg.Path == ":memory:" {
		// A pooled in-memory SQLite connection hands out a fresh, empty
		// database per connection; pin the pool to one connection so
		// every query sees the same database.
		db.SetMaxOpenConns(1)
	}

	if err := blobstore.CreateTable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := relation.CreateTable(ctx, db, mainTable); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.IndexType == IndexTypeIVFFlat {
		if err := relation.CreateTable(ctx, db, centroidTable); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info("engine opened", "path", cfg.Path, "index_type", cfg.IndexType, "dim", cfg.Dim)
	return &Engine{cfg: cfg, log: log, db: db}, nil
}

// Close releases the underlying SQLite connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Load registers and inserts a batch of vectors into the main relation,
// within a single transaction, in the order given (keys 0..len(vectors)-1
// if the relation is currently empty). Build must be called afterward to
// construct the selected index over the loaded data.
func (e *Engine) Load(ctx context.Context, vectors [][]float32) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return annerr.Wrap("engine.load", err)
	}

	blobs, err := blobstore.NewSQLiteStore(tx, e.cfg.BlobCacheSize)
	if err != nil {
		tx.Rollback()
		return err
	}
	rel := relation.NewSQLiteRelation(tx, blobs, mainTable)

	start, err := rel.Count(ctx)
	if err != nil {
		tx.Rollback()
		return err
	}

	for i, vec := range vectors {
		if err := blobstore.ValidateFloats(vec); err != nil {
			tx.Rollback()
			return annerr.Wrap("engine.load", err)
		}
		h, err := blobs.Register(ctx, blobstore.EncodeFloats(vec))
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := rel.Insert(ctx, int32(start)+int32(i), h); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return annerr.Wrap("engine.load", err)
	}
	e.log.Debug("load committed", "count", len(vectors))
	return nil
}

// Build constructs the configured index engine over whatever is currently
// in the main relation, inside a single transaction per spec §5's "one
// transaction wraps the entire build" contract.
func (e *Engine) Build(ctx context.Context) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return annerr.Wrap("engine.build", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	blobs, err := blobstore.NewSQLiteStore(tx, e.cfg.BlobCacheSize)
	if err != nil {
		return err
	}
	mainRel := relation.NewSQLiteRelation(tx, blobs, mainTable)
	kernel := distance.New(blobs, e.log)
	rng := rand.New(rand.NewSource(e.cfg.Seed))

	var idx index.VectorIndex
	var centroidRel *relation.SQLiteRelation
	switch e.cfg.IndexType {
	case IndexTypeKNN:
		idx = index.NewKNN(mainRel, kernel, e.log)
	case IndexTypeIVFFlat:
		cfg := e.cfg.IVFFlat
		cfg.Dim = e.cfg.Dim
		centroidRel = relation.NewSQLiteRelation(tx, blobs, centroidTable)
		idx, err = index.NewIVFFlat(mainRel, centroidRel, blobs, kernel, cfg, rng, e.log)
		if err != nil {
			return err
		}
	case IndexTypeHNSW:
		idx, err = index.NewHNSW(mainRel, kernel, e.cfg.HNSW, rng, e.log)
		if err != nil {
			return err
		}
	default:
		return annerr.Wrap("engine.build", annerr.ErrConfig)
	}

	if err := idx.Build(ctx); err != nil {
		return annerr.Wrap("engine.build", err)
	}
	if err := tx.Commit(); err != nil {
		return annerr.Wrap("engine.build", err)
	}
	committed = true

	e.idx = idx
	e.blobs = blobs
	e.mainRel = mainRel
	e.centroidRel = centroidRel
	e.log.Info("build complete", "stats", idx.Stats())
	return nil
}

// FindNClosest runs a single query transaction (spec §5) and delegates to
// the built engine. Build must have succeeded first. The engine's blob
// store and relation(s) are rebound to this fresh transaction for the
// duration of the call — the build's own transaction was already
// committed, and blob loads require a live one.
func (e *Engine) FindNClosest(ctx context.Context, query []float32, n int) ([]blobstore.BlobHandle, error) {
	if e.idx == nil {
		return nil, annerr.Wrap("engine.findNClosest", annerr.ErrPrecondition)
	}
	if err := blobstore.ValidateFloats(query); err != nil {
		return nil, annerr.Wrap("engine.findNClosest", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, annerr.Wrap("engine.findNClosest", err)
	}
	defer tx.Rollback()

	e.blobs.Rebind(tx)
	e.mainRel.Rebind(tx)
	if e.centroidRel != nil {
		e.centroidRel.Rebind(tx)
	}

	out, err := e.idx.FindNClosest(ctx, query, n)
	if err != nil {
		return nil, annerr.Wrap("engine.findNClosest", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, annerr.Wrap("engine.findNClosest", err)
	}
	return out, nil
}

// Stats reports the built index's diagnostics, or nil if Build has not
// run yet.
func (e *Engine) Stats() map[string]any {
	if e.idx == nil {
		return nil
	}
	return e.idx.Stats()
}
