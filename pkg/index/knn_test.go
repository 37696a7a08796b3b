package index

import (
	"context"
	"testing"

	"github.com/liliang-cn/annidx/pkg/distance"
)

func TestKNNExactNearestNeighbors(t *testing.T) {
	ctx := context.Background()
	vectors := [][]float32{
		{0, 0}, // key 0
		{1, 0}, // key 1
		{5, 5}, // key 2
		{0, 1}, // key 3
	}
	rel, blobs, err := NewMemoryFixture(ctx, vectors)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	kernel := distance.New(blobs, nil)
	idx := NewKNN(rel, kernel, nil)
	if err := idx.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.FindNClosest(ctx, []float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("findNClosest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d", len(got))
	}
	// key 0 is an exact match (distance 0); key 1 and key 3 tie at
	// distance 1, and insertion order (key 1 before key 3) breaks the tie.
	wantFirst, _, err := rel.Lookup(ctx, 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !got[0].Same(wantFirst) {
		t.Fatalf("closest result should be the exact match")
	}
}

func TestKNNClampsWhenNLargerThanCount(t *testing.T) {
	ctx := context.Background()
	vectors := [][]float32{{0, 0}, {1, 1}}
	rel, blobs, err := NewMemoryFixture(ctx, vectors)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	kernel := distance.New(blobs, nil)
	idx := NewKNN(rel, kernel, nil)
	if err := idx.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.FindNClosest(ctx, []float32{0, 0}, 100)
	if err != nil {
		t.Fatalf("findNClosest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want clamp to 2 results, got %d", len(got))
	}
}

func TestKNNEmptyRelationReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	rel, blobs, err := NewMemoryFixture(ctx, nil)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	kernel := distance.New(blobs, nil)
	idx := NewKNN(rel, kernel, nil)
	if err := idx.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := idx.FindNClosest(ctx, []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("findNClosest: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want 0 results on empty index, got %d", len(got))
	}
}
