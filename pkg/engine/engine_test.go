package engine

import (
	"context"
	"math/rand"
	"testing"
)

func TestEngineKNNLoadBuildQuery(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	cfg.Dim = 3
	cfg.IndexType = IndexTypeKNN

	e, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	vectors := [][]float32{{0, 0, 0}, {1, 1, 1}, {5, 5, 5}}
	if err := e.Load(ctx, vectors); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := e.FindNClosest(ctx, []float32{0.1, 0.1, 0.1}, 1)
	if err != nil {
		t.Fatalf("findNClosest: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}
	if e.Stats() == nil {
		t.Fatalf("want non-nil stats after build")
	}
}

func TestEngineIVFFlatLoadBuildQuery(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	cfg.Dim = 2
	cfg.IndexType = IndexTypeIVFFlat
	cfg.IVFFlat.NCentroids = 3
	cfg.IVFFlat.NProbe = 3
	cfg.IVFFlat.MaxIters = 5

	e, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	vectors := make([][]float32, 0, 30)
	seedRng := rand.New(rand.NewSource(9))
	for i := 0; i < 30; i++ {
		vectors = append(vectors, []float32{float32(seedRng.NormFloat64()), float32(seedRng.NormFloat64())})
	}
	if err := e.Load(ctx, vectors); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := e.FindNClosest(ctx, []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("findNClosest: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("want 5 results, got %d", len(got))
	}
}

func TestEngineQueryBeforeBuildFails(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Dim = 2
	cfg.IndexType = IndexTypeKNN

	e, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if _, err := e.FindNClosest(ctx, []float32{0, 0}, 1); err == nil {
		t.Fatalf("want error querying before build")
	}
}

func TestEngineRejectsZeroDim(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Dim = 0
	if _, err := Open(ctx, cfg); err == nil {
		t.Fatalf("want config validation error for Dim=0")
	}
}
