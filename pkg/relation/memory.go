package relation

import (
	"context"
	"sort"
	"sync"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/blobstore"
)

// MemoryRelation is an in-memory Relation backed by a plain map plus a
// sorted key index, the counterpart of blobstore.MemoryStore as zero-I/O
// test-fixture backing for the handle-based index engines.
type MemoryRelation struct {
	mu    sync.RWMutex
	blobs blobstore.Store
	rows  map[int32]blobstore.BlobHandle
}

// NewMemoryRelation constructs an empty in-memory relation whose
// Update/MaterializeFloats delegate blob mutation to blobs.
func NewMemoryRelation(blobs blobstore.Store) *MemoryRelation {
	return &MemoryRelation{blobs: blobs, rows: make(map[int32]blobstore.BlobHandle)}
}

func (r *MemoryRelation) sortedKeys() []int32 {
	keys := make([]int32, 0, len(r.rows))
	for k := range r.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *MemoryRelation) Scan(_ context.Context, startKey int32, visit Visitor) error {
	r.mu.RLock()
	keys := r.sortedKeys()
	snapshot := make(map[int32]blobstore.BlobHandle, len(r.rows))
	for k, v := range r.rows {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for _, k := range keys {
		if k < startKey {
			continue
		}
		more, err := visit(Record{Key: k, Handle: snapshot[k]})
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func (r *MemoryRelation) ScanDesc(_ context.Context, startKey int32, visit Visitor) error {
	r.mu.RLock()
	keys := r.sortedKeys()
	snapshot := make(map[int32]blobstore.BlobHandle, len(r.rows))
	for k, v := range r.rows {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		if k > startKey {
			continue
		}
		more, err := visit(Record{Key: k, Handle: snapshot[k]})
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func (r *MemoryRelation) Insert(_ context.Context, key int32, h blobstore.BlobHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key] = h
	return nil
}

func (r *MemoryRelation) Lookup(_ context.Context, key int32) (blobstore.BlobHandle, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.rows[key]
	return h, ok, nil
}

func (r *MemoryRelation) Update(ctx context.Context, key int32, data []byte) (blobstore.BlobHandle, error) {
	r.mu.Lock()
	prev, ok := r.rows[key]
	r.mu.Unlock()
	if !ok {
		return blobstore.BlobHandle{}, annerr.Wrap("relation.memory.update", annerr.ErrPrecondition)
	}

	next, err := r.blobs.Update(ctx, data, prev)
	if err != nil {
		return blobstore.BlobHandle{}, err
	}

	r.mu.Lock()
	r.rows[key] = next
	r.mu.Unlock()
	return next, nil
}

func (r *MemoryRelation) MaterializeFloats(ctx context.Context, key int32) ([]float32, error) {
	r.mu.RLock()
	h, ok := r.rows[key]
	r.mu.RUnlock()
	if !ok {
		return nil, annerr.Wrap("relation.memory.materializeFloats", annerr.ErrNotFound)
	}
	return r.blobs.MaterializeFloats(ctx, h)
}

func (r *MemoryRelation) Count(_ context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.rows)), nil
}

var _ Relation = (*MemoryRelation)(nil)
