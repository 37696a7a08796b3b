package blobstore

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := CreateTable(ctx, db); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// S9: Blob round-trip.
func TestRegisterLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	payload := EncodeFloats([]float32{1, 2, 3, 4})
	h, err := store.Register(ctx, payload)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var got []byte
	if err := store.Load(ctx, h, func(data []byte) error {
		got = append([]byte(nil), data...)
		return nil
	}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round-trip mismatch: got %v want %v", got, payload)
	}

	floats, err := store.MaterializeFloats(ctx, h)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if floats[i] != want[i] {
			t.Fatalf("materialize mismatch at %d: got %v want %v", i, floats[i], want[i])
		}
	}
}

// S10: Update atomicity.
func TestUpdateSupersedesHandle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, _ := NewSQLiteStore(db, 0)

	h1, err := store.Register(ctx, EncodeFloats([]float32{1, 1, 1}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h2, err := store.Update(ctx, EncodeFloats([]float32{2, 2, 2}), h1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	floats, err := store.MaterializeFloats(ctx, h2)
	if err != nil {
		t.Fatalf("materialize new handle: %v", err)
	}
	if floats[0] != 2 {
		t.Fatalf("expected updated payload, got %v", floats)
	}

	if err := store.Load(ctx, h1, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected old handle to no longer be load-addressable")
	}
}

func TestRegisterRejectsOutOfBoundsSize(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, _ := NewSQLiteStore(db, 0)

	oversized := make([]byte, MaxMalloc+4)
	if _, err := store.Register(ctx, oversized); err == nil {
		t.Fatalf("expected InvalidHandle error for oversized payload")
	}
}

func TestSameShortCircuitsIdenticalHandles(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, _ := NewSQLiteStore(db, 0)
	h, err := store.Register(ctx, EncodeFloats([]float32{5, 5, 5}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !h.Same(h) {
		t.Fatalf("expected identical handle to report Same")
	}
}
