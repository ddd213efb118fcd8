package history

import (
	"context"
	"testing"

	"github.com/meldahq/melda/internal/adapter/memory"
	"github.com/meldahq/melda/internal/deltablock"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/types"
)

func TestLoadImportsChangesIntoObjectStore(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	blocks := deltablock.New(a)
	objects := objectstore.New(pack.New(a, 0))
	nav := New(blocks, objects)

	changes := map[types.ObjectID][]types.ObjectChange{
		"obj-1": {{Rev: "1-aaa", Value: "h1"}},
	}
	id, err := blocks.Write(ctx, nil, nil, nil, changes)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	block, err := blocks.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if loaded := nav.Load(block); !loaded {
		t.Fatal("Load should report true for a fresh block")
	}
	if loaded := nav.Load(block); loaded {
		t.Error("Load should be idempotent for an already-loaded block")
	}

	tree, ok := objects.TreeIfExists("obj-1")
	if !ok {
		t.Fatal("expected obj-1's tree to exist after Load")
	}
	winner, ok := tree.Winner()
	if !ok || winner.ID != "1-aaa" {
		t.Errorf("winner = %+v, %v, want 1-aaa, true", winner, ok)
	}
}

func TestAnchorsExcludesBlocksWithLoadedChildren(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	blocks := deltablock.New(a)
	objects := objectstore.New(pack.New(a, 0))
	nav := New(blocks, objects)

	id1, _ := blocks.Write(ctx, nil, nil, nil, nil)
	b1, _ := blocks.Read(ctx, id1)
	nav.Load(b1)

	if anchors := nav.Anchors(); len(anchors) != 1 || anchors[0] != id1 {
		t.Fatalf("Anchors() = %v, want [%s]", anchors, id1)
	}

	id2, _ := blocks.Write(ctx, []string{id1}, nil, nil, nil)
	b2, _ := blocks.Read(ctx, id2)
	nav.Load(b2)

	anchors := nav.Anchors()
	if len(anchors) != 1 || anchors[0] != id2 {
		t.Errorf("Anchors() = %v, want [%s] (id1 now has a loaded child)", anchors, id2)
	}
}

func TestRefreshLoadsUnseenBlocks(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	blocks := deltablock.New(a)
	objects := objectstore.New(pack.New(a, 0))

	id, _ := blocks.Write(ctx, nil, nil, nil, nil)

	// a Navigator with its own Delta Block Store over the same adapter
	// must discover id via Refresh without ever calling Load directly.
	fresh := New(deltablock.New(a), objects)
	newIDs, err := fresh.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(newIDs) != 1 || newIDs[0] != id {
		t.Errorf("Refresh() = %v, want [%s]", newIDs, id)
	}
	if !fresh.Has(id) {
		t.Error("Refresh should have loaded the block")
	}
}

func TestReloadUntilRestrictsToAncestorClosure(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	blocks := deltablock.New(a)
	objects := objectstore.New(pack.New(a, 0))
	nav := New(blocks, objects)

	id1, _ := blocks.Write(ctx, nil, nil, nil, map[types.ObjectID][]types.ObjectChange{
		"obj-1": {{Rev: "1-aaa", Value: "h1"}},
	})
	b1, _ := blocks.Read(ctx, id1)
	nav.Load(b1)

	id2, _ := blocks.Write(ctx, []string{id1}, nil, nil, map[types.ObjectID][]types.ObjectChange{
		"obj-1": {{Rev: "2-bbb", Parents: []types.RevID{"1-aaa"}, Value: "h2"}},
	})
	b2, _ := blocks.Read(ctx, id2)
	nav.Load(b2)

	// A third, unrelated block chained off id2 should disappear once we
	// reload_until id1.
	id3, _ := blocks.Write(ctx, []string{id2}, nil, nil, nil)
	b3, _ := blocks.Read(ctx, id3)
	nav.Load(b3)

	if err := nav.ReloadUntil(ctx, id1); err != nil {
		t.Fatalf("ReloadUntil: %v", err)
	}

	if nav.Has(id2) || nav.Has(id3) {
		t.Errorf("ReloadUntil(%s) should drop descendants; Has(id2)=%v Has(id3)=%v", id1, nav.Has(id2), nav.Has(id3))
	}
	if !nav.Has(id1) {
		t.Error("ReloadUntil should keep the target block itself loaded")
	}

	tree, ok := objects.TreeIfExists("obj-1")
	if !ok {
		t.Fatal("expected obj-1's tree to be rebuilt")
	}
	winner, ok := tree.Winner()
	if !ok || winner.ID != "1-aaa" {
		t.Errorf("winner after ReloadUntil = %+v, %v, want 1-aaa, true", winner, ok)
	}
}
