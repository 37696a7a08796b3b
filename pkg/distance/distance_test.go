package distance

import (
	"context"
	"database/sql"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/annidx/pkg/blobstore"
)

func newTestKernel(t *testing.T) (*Kernel, context.Context) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := blobstore.CreateTable(ctx, db); err != nil {
		t.Fatalf("create table: %v", err)
	}
	blobs, err := blobstore.NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return New(blobs, nil), ctx
}

// S1: two vectors of length 1000, all-1s and all-2s -> d ~= sqrt(1000).
func TestVecScenarioS1(t *testing.T) {
	k, _ := newTestKernel(t)
	a := make([]float32, 1000)
	b := make([]float32, 1000)
	for i := range a {
		a[i] = 1
		b[i] = 2
	}
	got := k.Vec(a, b)
	want := float32(math.Sqrt(1000))
	if math.Abs(float64(got-want)) > 1e-3 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestVecSymmetryAndNonNegativity(t *testing.T) {
	k, _ := newTestKernel(t)
	a := []float32{1, -2, 3.5, 0, 7}
	b := []float32{-1, 2, 0, 4, -7}

	d1 := k.Vec(a, b)
	d2 := k.Vec(b, a)
	if math.Abs(float64(d1-d2)) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", d1, d2)
	}
	if d1 < 0 {
		t.Fatalf("distance negative: %v", d1)
	}
	if k.Vec(a, a) != 0 {
		t.Fatalf("self-distance not zero: %v", k.Vec(a, a))
	}
}

func TestVecTailHandledForNonMultipleOf8(t *testing.T) {
	k, _ := newTestKernel(t)
	for n := 1; n <= 17; n++ {
		a := make([]float32, n)
		b := make([]float32, n)
		for i := range a {
			a[i] = float32(i)
			b[i] = float32(i) + 1
		}
		got := k.Vec(a, b)
		want := float32(math.Sqrt(float64(n)))
		if math.Abs(float64(got-want)) > 1e-3 {
			t.Fatalf("n=%d: got %v want %v", n, got, want)
		}
	}
}

func TestBlobShortCircuitsIdenticalHandles(t *testing.T) {
	k, ctx := newTestKernel(t)
	h, err := k.blobs.Register(ctx, blobstore.EncodeFloats([]float32{1, 2, 3}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	d, err := k.Blob(ctx, h, h)
	if err != nil {
		t.Fatalf("blob distance: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected 0 for identical handle, got %v", d)
	}
}

func TestVecBlobMatchesVec(t *testing.T) {
	k, ctx := newTestKernel(t)
	h, err := k.blobs.Register(ctx, blobstore.EncodeFloats([]float32{3, 4}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	q := []float32{0, 0}
	got, err := k.VecBlob(ctx, q, h)
	if err != nil {
		t.Fatalf("vecBlob: %v", err)
	}
	if math.Abs(float64(got-5)) > 1e-3 {
		t.Fatalf("got %v want 5", got)
	}
}
