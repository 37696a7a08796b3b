// Package blobstore implements the blob access adapter: register, load,
// update and remove externally stored byte payloads addressed by a small
// fixed-size handle. It is the only component that ever materializes the
// float32 payload of a vector or centroid.
package blobstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/liliang-cn/annidx/pkg/annerr"
)

const (
	// MinMalloc is the smallest payload size the store will accept.
	MinMalloc = 4 // one float32

	// MaxMalloc is the largest payload size the store will accept. Chosen
	// generously relative to the dimensions exercised in this repo's
	// tests and benchmarks; a real page store would derive this from its
	// maximum blob/segment size.
	MaxMalloc = 64 << 20
)

// handleSize is the fixed wire size of a BlobHandle: 16 bytes of UUID, 4
// bytes of length, 8 bytes of row locator.
const handleSize = 16 + 4 + 8

// BlobHandle is an opaque, fixed-size identifier for an externally stored
// byte payload. Two handles with the same ID refer to byte-identical
// payloads; copying a handle into owned storage preserves its validity for
// the lifetime of the record that references it.
type BlobHandle struct {
	ID     uuid.UUID
	Length uint32
	rowID  int64 // implementation-defined locator, opaque outside this package
}

// Same reports whether two handles share identity. Per the distance kernel
// contract (spec §4.1), identical handles short-circuit to distance 0
// without ever loading either payload.
func (h BlobHandle) Same(other BlobHandle) bool {
	return h.ID == other.ID
}

// Valid reports whether the handle's declared length lies within the
// store's configured bounds.
func (h BlobHandle) Valid() bool {
	return h.Length >= MinMalloc && h.Length <= MaxMalloc
}

// Marshal encodes the handle to its fixed-size wire form, suitable for
// storage as the payload of a relation record (spec §6: "record payload
// size equals the blob-state handle size").
func (h BlobHandle) Marshal() []byte {
	buf := make([]byte, handleSize)
	copy(buf[0:16], h.ID[:])
	binary.LittleEndian.PutUint32(buf[16:20], h.Length)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.rowID))
	return buf
}

// UnmarshalHandle decodes a handle previously produced by Marshal.
func UnmarshalHandle(buf []byte) (BlobHandle, error) {
	if len(buf) != handleSize {
		return BlobHandle{}, fmt.Errorf("blobstore: malformed handle: want %d bytes, got %d", handleSize, len(buf))
	}
	var h BlobHandle
	copy(h.ID[:], buf[0:16])
	h.Length = binary.LittleEndian.Uint32(buf[16:20])
	h.rowID = int64(binary.LittleEndian.Uint64(buf[20:28]))
	return h, nil
}

// Store is the blob access adapter contract (spec §4.2).
type Store interface {
	// Register allocates a new blob holding bytes and returns its handle.
	Register(ctx context.Context, data []byte) (BlobHandle, error)

	// Update atomically replaces prev's backing content, returning a new
	// handle that supersedes prev. prev is no longer load-addressable
	// afterwards.
	Update(ctx context.Context, data []byte, prev BlobHandle) (BlobHandle, error)

	// Remove releases the blob. The handle must not be reused afterwards.
	Remove(ctx context.Context, h BlobHandle) error

	// Load invokes cb exactly once with the materialized payload; the
	// slice handed to cb is only valid for the duration of the call.
	Load(ctx context.Context, h BlobHandle, cb func([]byte) error) error

	// MaterializeFloats is a Load-built convenience that decodes the
	// payload as a little-endian float32 array.
	MaterializeFloats(ctx context.Context, h BlobHandle) ([]float32, error)
}

func validateHandle(h BlobHandle) error {
	if !h.Valid() {
		return annerr.ErrInvalidHandle
	}
	return nil
}
