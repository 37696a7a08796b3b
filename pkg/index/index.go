// Package index implements the three cooperating ANN engines — KNN,
// IVFFLAT, and HNSW — plus an in-memory baseline family used as a
// distance-only correctness oracle. Every engine is built once from a
// relation's blob-resident vectors and then only answers queries: the
// core is build-then-query, never online insert/delete (spec §1
// Non-goals).
package index

import (
	"context"

	"github.com/liliang-cn/annidx/pkg/blobstore"
)

// FloatIndex is the handle-free counterpart to VectorIndex: the
// in-memory family spec §4.7 describes ("no blob store; vectors held
// directly as float arrays... differs only in that it returns owned
// float slices rather than handles"), grounded directly on the
// original's `vec` namespace (`hnsw_vec.cc`/`ivfflat_vec.cc`/
// `knn_vec.cc`), whose `find_n_closest_vectors_vec` returns
// `std::vector<std::span<float>>` with no blob/handle type anywhere in
// the family. Realized by FloatKNNIndex.
type FloatIndex interface {
	// Build constructs whatever in-memory index state the engine needs
	// directly over the float vectors it was given; no relation or blob
	// store is ever touched.
	Build(ctx context.Context) error

	// FindNClosest returns the n vectors closest to query, ordered
	// ascending by distance, as owned float slices.
	FindNClosest(ctx context.Context, query []float32, n int) ([][]float32, error)

	// Stats reports engine-specific build/size statistics.
	Stats() map[string]any
}

// VectorIndex is the uniform contract every blob-resident engine
// realization satisfies (spec §4.7), letting an orchestrator treat KNN,
// IVFFLAT, and HNSW interchangeably.
type VectorIndex interface {
	// Build scans the main relation once and constructs whatever
	// in-memory index state the engine needs. Build is not safe to call
	// more than once on the same instance.
	Build(ctx context.Context) error

	// FindNClosest returns the n handles whose payloads are closest to
	// query, ordered ascending by distance. If fewer than n vectors
	// exist, all of them are returned, sorted.
	FindNClosest(ctx context.Context, query []float32, n int) ([]blobstore.BlobHandle, error)

	// Stats reports engine-specific build/size statistics for
	// diagnostics and benchmarking.
	Stats() map[string]any
}

// Logger is the minimal sink an engine uses to report build/query
// milestones. Satisfied structurally by pkg/engine's Logger.
type Logger interface {
	Debug(msg string, keyvals ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

func logOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

func clampN(n, have int) int {
	if n > have {
		return have
	}
	if n < 0 {
		return 0
	}
	return n
}
