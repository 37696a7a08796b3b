package index

import (
	"context"
	"sort"

	"github.com/liliang-cn/annidx/pkg/distance"
)

// FloatKNNIndex is the handle-free in-memory KNN oracle: the realization
// of spec §4.7's "parallel in-memory family" for KNN, grounded directly
// on the original's `knn_vec.cc`/`knn_vec.h` (`KnnIndexVec`, built over a
// bare `std::vector<std::vector<float>>` with no blob/handle type at
// all). Unlike KNNIndex, it never touches a relation.Relation or
// blobstore.Store — every vector it scores is already resident in
// process memory.
type FloatKNNIndex struct {
	vectors [][]float32
	log     Logger

	snapshot [][]float32
}

// NewFloatKNN constructs a handle-free KNN engine directly over vectors.
// vectors is retained by reference at Build time (not copied eagerly),
// mirroring KnnIndexVec's constructor, which takes ownership of its
// vector set.
func NewFloatKNN(vectors [][]float32, log Logger) *FloatKNNIndex {
	return &FloatKNNIndex{vectors: vectors, log: logOrNoop(log)}
}

func (k *FloatKNNIndex) Build(ctx context.Context) error {
	k.snapshot = k.vectors
	k.log.Debug("float knn build complete", "count", len(k.snapshot))
	return nil
}

type floatKnnScored struct {
	vec   []float32
	dist  float32
	order int
}

// FindNClosest scores every resident vector against query with the
// package-level distance.Vec (the same arithmetic as distance.Kernel.Vec,
// with no Kernel or blob store), stable-sorts ascending, and returns the first
// min(n, count) as owned float slices.
func (k *FloatKNNIndex) FindNClosest(ctx context.Context, query []float32, n int) ([][]float32, error) {
	scored := make([]floatKnnScored, len(k.snapshot))
	for i, v := range k.snapshot {
		d := distance.Vec(query, v)
		scored[i] = floatKnnScored{vec: v, dist: d, order: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].dist < scored[j].dist
	})
	limit := clampN(n, len(scored))
	out := make([][]float32, limit)
	for i := 0; i < limit; i++ {
		out[i] = append([]float32(nil), scored[i].vec...)
	}
	return out, nil
}

func (k *FloatKNNIndex) Stats() map[string]any {
	return map[string]any{
		"type":  "knn_float",
		"count": len(k.snapshot),
	}
}

var _ FloatIndex = (*FloatKNNIndex)(nil)
