package vectordb

import (
	"context"
	"testing"

	"github.com/ziadkadry99/cadence/internal/embeddings"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(embeddings.NewHashEmbedder(128))
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	return store
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	docs := map[string]string{
		"ep1": "picked tiles for the bathroom renovation",
		"ep2": "called mom about the birthday dinner",
		"ep3": "bathroom renovation budget approved",
	}
	for id, content := range docs {
		if err := store.Upsert(ctx, id, content, map[string]string{"layer": "L2"}); err != nil {
			t.Fatalf("Upsert(%s): %v", id, err)
		}
	}
	if got := store.Count(); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}

	ids, err := store.Search(ctx, "bathroom renovation", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d results, want 2", len(ids))
	}
	for _, id := range ids {
		if id == "ep2" {
			t.Errorf("unrelated episode ranked in the top two: %v", ids)
		}
	}
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Upsert(ctx, "ep1", "long detailed text", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, "ep1", "short summary", nil); err != nil {
		t.Fatal(err)
	}
	if got := store.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	res, err := store.SearchWithScores(ctx, "summary", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Content != "short summary" {
		t.Errorf("unexpected results: %+v", res)
	}
}

func TestSearchEmptyAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ids, err := store.Search(ctx, "anything", 5)
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty index: ids=%v err=%v", ids, err)
	}

	store.Upsert(ctx, "ep1", "one", nil)
	ids, err = store.Search(ctx, "one", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("limit should clamp to collection size, got %d", len(ids))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.Upsert(ctx, "ep1", "one", nil)
	store.Upsert(ctx, "ep2", "two", nil)

	if err := store.Delete(ctx, "ep1", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := store.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
	if err := store.Delete(ctx); err != nil {
		t.Errorf("Delete with no ids: %v", err)
	}
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newTestStore(t)
	store.Upsert(ctx, "ep1", "bathroom renovation", map[string]string{"layer": "L3"})
	if err := store.Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	restored := newTestStore(t)
	if err := restored.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := restored.Count(); got != 1 {
		t.Fatalf("Count after load = %d, want 1", got)
	}

	empty := newTestStore(t)
	if err := empty.Load(t.TempDir()); err != nil {
		t.Errorf("Load of missing file: %v", err)
	}
}
