package snapshotdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"pricestream/pkg/storage/snapshotdb"
	"pricestream/pkg/storage/sqlite"
)

func newStore(t *testing.T) *snapshotdb.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close(db) })

	if err := snapshotdb.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return snapshotdb.New(db)
}

// go test -v --run TestStoreGetMissing
func TestStoreGetMissing(t *testing.T) {
	store := newStore(t)

	got, err := store.Get(context.Background(), "timed:prices")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %s", got)
	}
}

// go test -v --run TestStorePutUpserts
func TestStorePutUpserts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "timed:prices", []byte(`{"tickerCount":1}`)); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.Put(ctx, "timed:prices", []byte(`{"tickerCount":2}`)); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := store.Get(ctx, "timed:prices")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"tickerCount":2}` {
		t.Errorf("got %s", got)
	}
}
