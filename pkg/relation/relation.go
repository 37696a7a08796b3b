// Package relation implements the vector adapter: an ordered key-value
// table mapping a signed 32-bit key to a blob-state handle. One instance
// exists per logical relation (main vectors, IVFFLAT centroids).
package relation

import (
	"context"

	"github.com/liliang-cn/annidx/pkg/blobstore"
)

// Record is one row of a relation: a key and the handle of its blob.
type Record struct {
	Key    int32
	Handle blobstore.BlobHandle
}

// Visitor is invoked once per scanned record, in key order. Returning
// false stops the scan early.
type Visitor func(rec Record) (bool, error)

// Relation is the vector adapter contract (spec §4.3).
type Relation interface {
	// Scan invokes visit in ascending key order, starting at startKey.
	Scan(ctx context.Context, startKey int32, visit Visitor) error

	// ScanDesc is the descending-order counterpart of Scan.
	ScanDesc(ctx context.Context, startKey int32, visit Visitor) error

	// Insert adds a new record. Behavior on a duplicate key is left to
	// the backing store; the core always inserts dense, non-duplicate
	// keys and does not test collision semantics.
	Insert(ctx context.Context, key int32, h blobstore.BlobHandle) error

	// Lookup returns the handle stored at key and reports whether it was
	// found; an absent key is not an error.
	Lookup(ctx context.Context, key int32) (blobstore.BlobHandle, bool, error)

	// Update replaces the record at key with a blob holding data: the
	// previous blob is removed, a new one registered, and the record
	// re-pointed, atomically from the caller's perspective. Returns
	// ErrPrecondition if key is absent.
	Update(ctx context.Context, key int32, data []byte) (blobstore.BlobHandle, error)

	// MaterializeFloats looks up key and decodes its blob as floats.
	MaterializeFloats(ctx context.Context, key int32) ([]float32, error)

	// Count returns the number of records currently in the relation.
	Count(ctx context.Context) (uint64, error)
}
