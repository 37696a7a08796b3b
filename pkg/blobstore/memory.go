package blobstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/annidx/pkg/annerr"
)

// MemoryStore is an in-memory Store with no backing page store at all,
// used as zero-I/O test-fixture backing for the handle-based index
// engines (see pkg/index's NewMemoryFixture). It is not the handle-free
// in-memory family of spec §4.7; that is pkg/index's FloatKNNIndex. It
// holds every payload in a map and never touches disk.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]byte
}

// NewMemoryStore returns an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uuid.UUID][]byte)}
}

func (m *MemoryStore) Register(_ context.Context, data []byte) (BlobHandle, error) {
	if len(data) < MinMalloc || len(data) > MaxMalloc {
		return BlobHandle{}, annerr.Wrap("blobstore.memory.register", annerr.ErrInvalidHandle)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	cp := append([]byte(nil), data...)
	m.data[id] = cp
	return BlobHandle{ID: id, Length: uint32(len(data))}, nil
}

func (m *MemoryStore) Update(ctx context.Context, data []byte, prev BlobHandle) (BlobHandle, error) {
	if err := validateHandle(prev); err != nil {
		return BlobHandle{}, annerr.Wrap("blobstore.memory.update", err)
	}
	next, err := m.Register(ctx, data)
	if err != nil {
		return BlobHandle{}, err
	}
	if err := m.Remove(ctx, prev); err != nil {
		return BlobHandle{}, err
	}
	return next, nil
}

func (m *MemoryStore) Remove(_ context.Context, h BlobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, h.ID)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, h BlobHandle, cb func([]byte) error) error {
	if err := validateHandle(h); err != nil {
		return annerr.Wrap("blobstore.memory.load", err)
	}
	m.mu.RLock()
	data, ok := m.data[h.ID]
	m.mu.RUnlock()
	if !ok {
		return annerr.Wrap("blobstore.memory.load", annerr.ErrPrecondition)
	}
	return cb(data)
}

func (m *MemoryStore) MaterializeFloats(ctx context.Context, h BlobHandle) ([]float32, error) {
	var vec []float32
	err := m.Load(ctx, h, func(data []byte) error {
		decoded, err := DecodeFloats(data)
		if err != nil {
			return err
		}
		vec = decoded
		return nil
	})
	return vec, err
}

var _ Store = (*MemoryStore)(nil)
