package relation

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/annidx/pkg/blobstore"
)

func openTestRelation(t *testing.T, table string) (*sql.DB, *SQLiteRelation, blobstore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := blobstore.CreateTable(ctx, db); err != nil {
		t.Fatalf("blob table: %v", err)
	}
	if err := CreateTable(ctx, db, table); err != nil {
		t.Fatalf("relation table: %v", err)
	}

	blobs, err := blobstore.NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("new blobstore: %v", err)
	}
	rel := NewSQLiteRelation(db, blobs, table)
	return db, rel, blobs
}

func TestScanAscendingOrder(t *testing.T) {
	ctx := context.Background()
	_, rel, blobs := openTestRelation(t, "vectors")

	for i := int32(0); i < 5; i++ {
		h, err := blobs.Register(ctx, blobstore.EncodeFloats([]float32{float32(i)}))
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := rel.Insert(ctx, i, h); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var seen []int32
	err := rel.Scan(ctx, 0, func(rec Record) (bool, error) {
		seen = append(seen, rec.Key)
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i, k := range seen {
		if k != int32(i) {
			t.Fatalf("scan order mismatch: %v", seen)
		}
	}
}

func TestScanVisitorStopsEarly(t *testing.T) {
	ctx := context.Background()
	_, rel, blobs := openTestRelation(t, "vectors")
	for i := int32(0); i < 10; i++ {
		h, _ := blobs.Register(ctx, blobstore.EncodeFloats([]float32{float32(i)}))
		rel.Insert(ctx, i, h)
	}

	count := 0
	rel.Scan(ctx, 0, func(rec Record) (bool, error) {
		count++
		return count < 3, nil
	})
	if count != 3 {
		t.Fatalf("expected scan to stop after 3 visits, got %d", count)
	}
}

func TestUpdateReplacesBlobAtomically(t *testing.T) {
	ctx := context.Background()
	_, rel, _ := openTestRelation(t, "centroids")

	h1, err := rel.Update(ctx, 0, blobstore.EncodeFloats([]float32{1, 1}))
	if err == nil {
		t.Fatalf("expected precondition error updating absent key, got handle %v", h1)
	}

	db, rel2, blobs := openTestRelation(t, "centroids")
	defer db.Close()
	initial, err := blobs.Register(ctx, blobstore.EncodeFloats([]float32{0, 0}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := rel2.Insert(ctx, 0, initial); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := rel2.Update(ctx, 0, blobstore.EncodeFloats([]float32{9, 9}))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	vec, err := rel2.MaterializeFloats(ctx, 0)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if vec[0] != 9 || vec[1] != 9 {
		t.Fatalf("expected updated payload, got %v", vec)
	}

	h, ok, err := rel2.Lookup(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("lookup after update failed: %v %v", ok, err)
	}
	if !h.Same(updated) {
		t.Fatalf("relation's stored handle does not match the returned updated handle")
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	_, rel, blobs := openTestRelation(t, "vectors")
	for i := int32(0); i < 7; i++ {
		h, _ := blobs.Register(ctx, blobstore.EncodeFloats([]float32{float32(i)}))
		rel.Insert(ctx, i, h)
	}
	n, err := rel.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected count 7, got %d", n)
	}
}
