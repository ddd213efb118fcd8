package pack

import (
	"context"
	"testing"

	"github.com/meldahq/melda/internal/adapter/memory"
	"github.com/meldahq/melda/internal/jsonvalue"
)

func newObj(k, v string) *jsonvalue.Object {
	o := jsonvalue.NewObject()
	o.Set(k, v)
	return o
}

func TestPutIsIdempotentByContent(t *testing.T) {
	s := New(memory.New(), 0)
	h1, err := s.Put(newObj("a", "1"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	h2, err := s.Put(newObj("a", "1"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Put of identical content returned different hashes: %s != %s", h1, h2)
	}
	if s.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1 (duplicate put should not grow the buffer)", s.PendingCount())
	}
}

func TestSealAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), 0)
	hash, err := s.Put(newObj("k", "v"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	id, ok, err := s.Seal(ctx)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !ok || id == "" {
		t.Fatalf("Seal() = %q, %v, want a non-empty id and ok=true", id, ok)
	}
	if s.HasPending() {
		t.Error("HasPending() should be false right after Seal")
	}

	// A fresh store sharing the same adapter must be able to resolve the
	// value purely from the sealed pack, with nothing left pending.
	fresh := New(s.a, 0)
	got, err := fresh.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	obj, ok := jsonvalue.AsObject(got)
	if !ok {
		t.Fatalf("Get returned %T, want *jsonvalue.Object", got)
	}
	v, _ := obj.Get("k")
	if v != "v" {
		t.Errorf("Get()[k] = %v, want \"v\"", v)
	}
}

func TestSealWithNothingPendingReturnsFalse(t *testing.T) {
	s := New(memory.New(), 0)
	id, ok, err := s.Seal(context.Background())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if ok || id != "" {
		t.Errorf("Seal() on empty buffer = %q, %v, want \"\", false", id, ok)
	}
}

func TestGetUnknownHash(t *testing.T) {
	s := New(memory.New(), 0)
	if _, err := s.Get(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error resolving an unknown hash")
	}
}

func TestGetServesFromPendingBeforeSeal(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), 0)
	hash, err := s.Put(newObj("k", "v"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, hash); err != nil {
		t.Fatalf("Get of a pending (unsealed) value should succeed: %v", err)
	}
}
