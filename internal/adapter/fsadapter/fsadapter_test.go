package fsadapter

import (
	"context"
	"testing"

	"github.com/meldahq/melda/internal/adapter"
)

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := a.readManifest(); err != nil {
		t.Fatalf("readManifest: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := adapter.PackKey("abcdef0123456789")
	if err := a.WriteObject(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	got, err := a.ReadObject(ctx, key, 0, 0)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("ReadObject = %q, want \"payload\"", got)
	}

	has, err := a.HasObject(ctx, key)
	if err != nil || !has {
		t.Errorf("HasObject = %v, %v, want true, nil", has, err)
	}
}

func TestWriteObjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, _ := Open(t.TempDir())
	key := adapter.DeltaKey("deadbeef01")

	if err := a.WriteObject(ctx, key, []byte("first")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if err := a.WriteObject(ctx, key, []byte("second")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	got, _ := a.ReadObject(ctx, key, 0, 0)
	if string(got) != "first" {
		t.Errorf("second WriteObject should not overwrite: got %q, want \"first\"", got)
	}

	m, err := a.readManifest()
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if m.BlockCount != 1 {
		t.Errorf("manifest.BlockCount = %d, want 1 (idempotent write shouldn't double-count)", m.BlockCount)
	}
}

func TestListObjectsEnumeratesShardedFiles(t *testing.T) {
	ctx := context.Background()
	a, _ := Open(t.TempDir())
	a.WriteObject(ctx, adapter.PackKey("aa11"), []byte("x"))
	a.WriteObject(ctx, adapter.PackKey("bb22"), []byte("y"))

	got, err := a.ListObjects(ctx, adapter.PackPrefix)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListObjects() = %v, want 2 entries", got)
	}
}

func TestReadObjectMissingReturnsAdapterFailure(t *testing.T) {
	a, _ := Open(t.TempDir())
	if _, err := a.ReadObject(context.Background(), adapter.PackKey("00missing"), 0, 0); err == nil {
		t.Fatal("expected error reading a non-existent object")
	}
}

func TestKeyPathRejectsShortID(t *testing.T) {
	a, _ := Open(t.TempDir())
	if _, err := a.keyPath(adapter.PackKey("a")); err == nil {
		t.Fatal("expected error sharding an id shorter than 2 characters")
	}
}
