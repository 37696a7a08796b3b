package index

import (
	"context"
	"sort"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/blobstore"
	"github.com/liliang-cn/annidx/pkg/distance"
	"github.com/liliang-cn/annidx/pkg/relation"
)

// KNNIndex is the exhaustive-scan oracle (spec §4.4): it snapshots every
// main-relation handle at build time and, at query time, scores all of
// them against the query vector. Used both as a baseline and as the
// ground truth the IVFFLAT/HNSW tests check recall against.
type KNNIndex struct {
	rel    relation.Relation
	kernel *distance.Kernel
	log    Logger

	handles []blobstore.BlobHandle
}

// NewKNN constructs a KNN engine over rel, scoring with kernel.
func NewKNN(rel relation.Relation, kernel *distance.Kernel, log Logger) *KNNIndex {
	return &KNNIndex{rel: rel, kernel: kernel, log: logOrNoop(log)}
}

func (k *KNNIndex) Build(ctx context.Context) error {
	var handles []blobstore.BlobHandle
	err := k.rel.Scan(ctx, 0, func(rec relation.Record) (bool, error) {
		handles = append(handles, rec.Handle)
		return true, nil
	})
	if err != nil {
		return annerr.Wrap("knn.build", err)
	}
	k.handles = handles
	k.log.Debug("knn build complete", "count", len(handles))
	return nil
}

type knnScored struct {
	handle blobstore.BlobHandle
	dist   float32
	order  int // insertion index, for stable tie-break
}

// FindNClosest implements spec §4.4: score every stored handle, stable
// sort ascending by distance (ties keep insertion order), return the
// first min(n, count).
func (k *KNNIndex) FindNClosest(ctx context.Context, query []float32, n int) ([]blobstore.BlobHandle, error) {
	scored := make([]knnScored, len(k.handles))
	for i, h := range k.handles {
		d, err := k.kernel.VecBlob(ctx, query, h)
		if err != nil {
			return nil, annerr.Wrap("knn.findNClosest", err)
		}
		scored[i] = knnScored{handle: h, dist: d, order: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].dist < scored[j].dist
	})
	limit := clampN(n, len(scored))
	out := make([]blobstore.BlobHandle, limit)
	for i := 0; i < limit; i++ {
		out[i] = scored[i].handle
	}
	return out, nil
}

func (k *KNNIndex) Stats() map[string]any {
	return map[string]any{
		"type":  "knn",
		"count": len(k.handles),
	}
}

var _ VectorIndex = (*KNNIndex)(nil)
