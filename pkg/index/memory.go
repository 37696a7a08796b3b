package index

import (
	"context"

	"github.com/liliang-cn/annidx/pkg/blobstore"
	"github.com/liliang-cn/annidx/pkg/relation"
)

// NewMemoryFixture builds a zero-I/O backing for a slice of vectors:
// every payload lives in a blobstore.MemoryStore and every key/handle
// pair in a relation.MemoryRelation, with no SQLite or disk I/O anywhere
// in the path. This is test-fixture plumbing for the handle-based
// engines (KNNIndex, IVFFlatIndex, HNSWIndex), used by this package's
// own correctness tests — it is not spec §4.7's handle-free in-memory
// family; that contract is FloatIndex/FloatKNNIndex (knn_float.go),
// which is what the benchmark driver's benchmark_baseline flag runs.
func NewMemoryFixture(ctx context.Context, vectors [][]float32) (relation.Relation, blobstore.Store, error) {
	blobs := blobstore.NewMemoryStore()
	rel := relation.NewMemoryRelation(blobs)
	for i, vec := range vectors {
		h, err := blobs.Register(ctx, blobstore.EncodeFloats(vec))
		if err != nil {
			return nil, nil, err
		}
		if err := rel.Insert(ctx, int32(i), h); err != nil {
			return nil, nil, err
		}
	}
	return rel, blobs, nil
}
