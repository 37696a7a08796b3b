// Package annerr defines the shared error taxonomy used across the blob
// store, relation, index, and orchestration layers.
package annerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these, never string matching.
var (
	// ErrInvalidHandle is returned when a blob handle's size falls outside
	// [MinMalloc, MaxMalloc], or otherwise fails a basic sanity check.
	ErrInvalidHandle = errors.New("invalid blob handle")

	// ErrStoreClosed is returned when an operation is attempted against a
	// store or relation that has already been closed.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when MaterializeFloats targets an absent key.
	// (Lookup reports absence through its found flag; Update of an absent
	// key returns ErrPrecondition.)
	ErrNotFound = errors.New("key not found")

	// ErrPrecondition is returned when a caller violates a documented
	// contract: updating an absent key, loading an already-removed blob,
	// querying before build. Treated as a programming error.
	ErrPrecondition = errors.New("precondition violated")

	// ErrConfig is returned when an engine is constructed with a
	// nonsensical knob: MMax == 0, Dim == 0, NCentroids == 0, and so on.
	// NCentroids larger than the vector count is not an error: the IVFFLAT
	// build clamps it to the count.
	ErrConfig = errors.New("invalid configuration")
)

// StoreError wraps a lower-layer or store error with the operation name
// that produced it, so callers can log "ivfflat.build: ..." instead of a
// bare error string.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("annidx: %v", e.Err)
	}
	return fmt.Sprintf("annidx: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return errors.Is(e.Err, target) }

// Wrap attaches an operation name to err. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
