// Package distance implements the Euclidean distance kernel used by every
// index engine. It is deliberately the one place in the repository that
// computes ‖a - b‖₂, so the SIMD-lane-width and blob-loading contracts only
// need to be gotten right once.
package distance

import (
	"context"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/liliang-cn/annidx/pkg/blobstore"
)

// Logger is the minimal sink the kernel uses to report which code path it
// selected at construction. Satisfied by pkg/engine's Logger without an
// import cycle (structural typing), or left nil for silence.
type Logger interface {
	Debug(msg string, keyvals ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Kernel computes Euclidean distance between float spans and blob-resident
// vectors. Its zero value is unusable; construct with New.
type Kernel struct {
	wide8 bool // true if the AVX2-sized 8-wide unrolled path is selected
	blobs blobstore.Store
}

// New builds a Kernel bound to blobs for the blob-resident variants.
// It probes the host's SIMD feature set once via cpuid and picks the
// 8-wide unrolled accumulation path when AVX2 is available, falling back
// to the portable 4-wide path otherwise. Go does not expose AVX2
// intrinsics without assembly, so "8-wide" here means the accumulation
// loop is unrolled eight-wide to give the compiler its best shot at
// auto-vectorizing; it is not a hand-written AVX2 kernel.
func New(blobs blobstore.Store, log Logger) *Kernel {
	if log == nil {
		log = noopLogger{}
	}
	wide8 := cpuid.CPU.Supports(cpuid.AVX2)
	log.Debug("distance kernel selected", "wide8", wide8, "cpu", cpuid.CPU.BrandName)
	return &Kernel{wide8: wide8, blobs: blobs}
}

var (
	wide8Once sync.Once
	wide8     bool
)

// Vec computes ‖a - b‖₂ for two in-memory spans of equal length, probing
// the same AVX2 feature gate as New but without requiring a blob store
// or a constructed Kernel. This is the path the handle-free in-memory
// family (pkg/index's FloatIndex realizations, grounded on the
// original's `*_vec` classes) uses: those engines never hold a
// blobstore.Store at all, so they can't build a Kernel the way the
// blob-resident engines do.
func Vec(a, b []float32) float32 {
	wide8Once.Do(func() { wide8 = cpuid.CPU.Supports(cpuid.AVX2) })
	if wide8 {
		return vecWide8(a, b)
	}
	return vecWide4(a, b)
}

// Vec computes ‖a - b‖₂ for two in-memory spans of equal length.
func (k *Kernel) Vec(a, b []float32) float32 {
	if k != nil && k.wide8 {
		return vecWide8(a, b)
	}
	return vecWide4(a, b)
}

// Blob computes ‖a - b‖₂ for two blob-resident vectors, loading both
// through the blob adapter. Short-circuits to 0 without any I/O if the
// handles share identity. The inner load runs nested inside the outer
// load's callback, so the outer buffer is still alive when the inner one
// is materialized — preserving the "outermost loaded once, innermost per
// candidate" access pattern the adapter's Load contract requires.
func (k *Kernel) Blob(ctx context.Context, a, b blobstore.BlobHandle) (float32, error) {
	if a.Same(b) {
		return 0, nil
	}
	var dist float32
	err := k.blobs.Load(ctx, a, func(aBytes []byte) error {
		av, err := blobstore.DecodeFloats(aBytes)
		if err != nil {
			return err
		}
		return k.blobs.Load(ctx, b, func(bBytes []byte) error {
			bv, err := blobstore.DecodeFloats(bBytes)
			if err != nil {
				return err
			}
			dist = k.Vec(av, bv)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return dist, nil
}

// VecBlob computes ‖q - payload(h)‖₂ where q is already resident in
// memory and h must be materialized. This is the hot path for every
// engine's query-time scoring loop: q is loaded once by the caller,
// h varies per candidate.
func (k *Kernel) VecBlob(ctx context.Context, q []float32, h blobstore.BlobHandle) (float32, error) {
	var dist float32
	err := k.blobs.Load(ctx, h, func(data []byte) error {
		v, err := blobstore.DecodeFloats(data)
		if err != nil {
			return err
		}
		dist = k.Vec(q, v)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dist, nil
}

// vecWide4 is the portable scalar-tail path: four-wide accumulation.
func vecWide4(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vecWide8 accumulates in eight independent lanes before the final
// horizontal add, then falls back to the scalar loop for the remainder.
func vecWide8(a, b []float32) float32 {
	var s0, s1, s2, s3, s4, s5, s6, s7 float32
	n := len(a)
	i := 0
	for ; i+8 <= n; i += 8 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		d4 := a[i+4] - b[i+4]
		d5 := a[i+5] - b[i+5]
		d6 := a[i+6] - b[i+6]
		d7 := a[i+7] - b[i+7]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
		s4 += d4 * d4
		s5 += d5 * d5
		s6 += d6 * d6
		s7 += d7 * d7
	}
	sum := s0 + s1 + s2 + s3 + s4 + s5 + s6 + s7
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}
