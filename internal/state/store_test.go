package state

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStoreGetMissingReturnsEmptyObject(t *testing.T) {
	t.Parallel()

	s := openTestDB(t)
	raw, err := s.Get(context.Background(), "uptime")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("expected {}, got %s", string(raw))
	}
}

func TestStoreShallowMergeReplacesTopLevelKeys(t *testing.T) {
	t.Parallel()

	s := openTestDB(t)

	if _, err := s.ShallowMerge(context.Background(), "p", json.RawMessage(`{"a":1,"b":{"x":1}}`)); err != nil {
		t.Fatalf("ShallowMerge (1): %v", err)
	}
	merged, err := s.ShallowMerge(context.Background(), "p", json.RawMessage(`{"b":{"y":2}}`))
	if err != nil {
		t.Fatalf("ShallowMerge (2): %v", err)
	}
	// "b" is replaced, not deep-merged.
	if string(merged) != `{"a":1,"b":{"y":2}}` && string(merged) != `{"b":{"y":2},"a":1}` {
		t.Fatalf("unexpected merged state: %s", string(merged))
	}
}

func TestStoreMergePersistsAcrossStores(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s := NewStore(db)
	if _, err := s.ShallowMerge(context.Background(), "uptime", json.RawMessage(`{"ticks":7}`)); err != nil {
		t.Fatalf("ShallowMerge: %v", err)
	}
	_ = db.Close()

	// Reopen as a fresh process would.
	db2, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })

	raw, err := NewStore(db2).Get(context.Background(), "uptime")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != `{"ticks":7}` {
		t.Fatalf("unexpected persisted state: %s", string(raw))
	}
}

func TestStoreStateSizeLimit(t *testing.T) {
	t.Parallel()

	s := openTestDB(t)

	big := make([]byte, DefaultMaxStateBytes+100_000)
	for i := range big {
		big[i] = 'a'
	}
	update := json.RawMessage(`{"blob":"` + string(big) + `"}`)
	if _, err := s.ShallowMerge(context.Background(), "p", update); err == nil {
		t.Fatalf("expected size limit error, got nil")
	}
}
