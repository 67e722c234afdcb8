package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mustafasegf/pemasak-infra/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolveFallsBackToStoreAndCaches(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, o, _ := st.CreateUser(ctx, "alice", "hash", "Alice")
	p, _ := st.CreateProject(ctx, o.ID, "booker")
	if _, err := st.UpsertDomain(ctx, p.ID, "alice-booker.pemasak.dev", 3000, "10.0.0.5", ""); err != nil {
		t.Fatalf("UpsertDomain() error = %v", err)
	}

	r := New(st, "pemasak.dev")
	tg, err := r.resolve(ctx, "alice-booker.pemasak.dev")
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if tg.ip != "10.0.0.5" || tg.port != 3000 {
		t.Fatalf("resolve() = %+v, want ip=10.0.0.5 port=3000", tg)
	}

	if _, ok := r.cache.Load("alice-booker.pemasak.dev"); !ok {
		t.Fatal("expected resolve to populate the cache")
	}
}

func TestInvalidateDropsCachedEntry(t *testing.T) {
	st := openTestStore(t)
	r := New(st, "pemasak.dev")
	r.Put("alice-booker.pemasak.dev", "10.0.0.5", 3000)

	r.Invalidate("alice-booker.pemasak.dev")

	if _, ok := r.cache.Load("alice-booker.pemasak.dev"); ok {
		t.Fatal("expected Invalidate to remove the cache entry")
	}
}

func TestResolveFailsForUnknownHost(t *testing.T) {
	st := openTestStore(t)
	r := New(st, "pemasak.dev")
	if _, err := r.resolve(context.Background(), "nobody-nothing.pemasak.dev"); err == nil {
		t.Fatal("expected resolve to fail for a host with no matching project")
	}
}
