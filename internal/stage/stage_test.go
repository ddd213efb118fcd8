package stage

import (
	"context"
	"strconv"
	"testing"

	"github.com/meldahq/melda/internal/adapter/memory"
	"github.com/meldahq/melda/internal/deltaresolve"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/types"
)

func newStaging(t *testing.T) (*Staging, *objectstore.Store) {
	t.Helper()
	packs := pack.New(memory.New(), 0)
	objects := objectstore.New(packs)
	resolver := deltaresolve.New(objects, packs)
	return New(objects, packs, resolver), objects
}

func TestStageSimpleRootUpdate(t *testing.T) {
	s, objects := newStaging(t)
	root := jsonvalue.NewObject()
	root.Set("title", "hello")

	if err := s.Stage(context.Background(), root); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	pending := s.DrainPending()
	revs, ok := pending[types.RootID]
	if !ok || len(revs) != 1 {
		t.Fatalf("pending[root] = %v, want exactly 1 revision", revs)
	}
	if revs[0].Gen != 1 {
		t.Errorf("first staged revision gen = %d, want 1", revs[0].Gen)
	}

	tree, ok := objects.TreeIfExists(types.RootID)
	if !ok {
		t.Fatal("root tree should exist after staging")
	}
	winner, ok := tree.Winner()
	if !ok || winner.ID != revs[0].ID {
		t.Errorf("winner = %+v, want the staged revision %+v", winner, revs[0])
	}
}

func TestStageNoOpWhenUnchanged(t *testing.T) {
	s, _ := newStaging(t)
	ctx := context.Background()

	root := jsonvalue.NewObject()
	root.Set("title", "hello")
	if err := s.Stage(ctx, root); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	s.DrainPending()

	// restage an equivalent value (fresh object, same content)
	root2 := jsonvalue.NewObject()
	root2.Set("title", "hello")
	if err := s.Stage(ctx, root2); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	pending := s.DrainPending()
	if len(pending) != 0 {
		t.Errorf("pending = %v, want empty (unchanged value should not stage a new revision)", pending)
	}
}

func TestStageChangedValueCreatesNewGeneration(t *testing.T) {
	s, objects := newStaging(t)
	ctx := context.Background()

	root := jsonvalue.NewObject()
	root.Set("title", "v1")
	s.Stage(ctx, root)
	s.DrainPending()

	root2 := jsonvalue.NewObject()
	root2.Set("title", "v2")
	if err := s.Stage(ctx, root2); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	pending := s.DrainPending()
	revs := pending[types.RootID]
	if len(revs) != 1 || revs[0].Gen != 2 {
		t.Fatalf("second stage revs = %v, want one revision with gen 2", revs)
	}

	tree, _ := objects.TreeIfExists(types.RootID)
	if leaves := tree.Leaves(); len(leaves) != 1 || leaves[0] != revs[0].ID {
		t.Errorf("Leaves() = %v, want [%s]", leaves, revs[0].ID)
	}
}

func TestStageFlattenCreatesChildObjects(t *testing.T) {
	s, objects := newStaging(t)
	s.NewID = sequentialIDs()

	child := jsonvalue.NewObject()
	child.Set("name", "item-1")
	root := jsonvalue.NewObject()
	root.Set("items♭", []any{child})

	if err := s.Stage(context.Background(), root); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	pending := s.DrainPending()

	if _, ok := pending[types.RootID]; !ok {
		t.Fatal("expected root to be staged")
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %v, want root + 1 child", pending)
	}

	childID := types.ObjectID("id-1")
	if _, ok := objects.TreeIfExists(childID); !ok {
		t.Fatalf("expected child object %s to have a revision tree", childID)
	}

	rootTree, _ := objects.TreeIfExists(types.RootID)
	winner, _ := rootTree.Winner()
	val, _, err := objects.Value(context.Background(), winner)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	obj, _ := jsonvalue.AsObject(val)
	itemsRaw, ok := obj.Get("items♭")
	if !ok {
		t.Fatal("canonical root value should retain the items♭ key")
	}
	items, _ := jsonvalue.AsArray(itemsRaw)
	if len(items) != 1 || items[0] != string(childID) {
		t.Errorf("items♭ = %v, want [%s]", items, childID)
	}
}

func TestStageDeltaArrayProducesPatchAfterFirstGeneration(t *testing.T) {
	s, objects := newStaging(t)
	s.NewID = sequentialIDs()
	ctx := context.Background()

	c1 := jsonvalue.NewObject()
	c1.Set("name", "a")
	root := jsonvalue.NewObject()
	root.Set("Δitems♭", []any{c1})
	if err := s.Stage(ctx, root); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	s.DrainPending()

	c1b := jsonvalue.NewObject()
	c1b.Set("_id", "id-1")
	c1b.Set("name", "a")
	c2 := jsonvalue.NewObject()
	c2.Set("name", "b")
	root2 := jsonvalue.NewObject()
	root2.Set("Δitems♭", []any{c1b, c2})
	if err := s.Stage(ctx, root2); err != nil {
		t.Fatalf("second Stage: %v", err)
	}
	s.DrainPending()

	rootTree, _ := objects.TreeIfExists(types.RootID)
	winner, _ := rootTree.Winner()
	val, _, err := objects.Value(ctx, winner)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	obj, _ := jsonvalue.AsObject(val)
	patchVal, ok := obj.Get("Δitems♭")
	if !ok {
		t.Fatal("expected Δitems♭ field in canonical value")
	}
	patchObj, ok := jsonvalue.AsObject(patchVal)
	if !ok {
		t.Fatalf("Δitems♭ should be stored in patch form, got %T", patchVal)
	}
	if _, ok := patchObj.Get("patch_ops"); !ok {
		t.Error("patch form should carry a patch_ops field")
	}
}

func TestStageDeletionForVanishedObject(t *testing.T) {
	s, objects := newStaging(t)
	s.NewID = sequentialIDs()
	ctx := context.Background()

	c1 := jsonvalue.NewObject()
	c1.Set("name", "a")
	root := jsonvalue.NewObject()
	root.Set("items♭", []any{c1})
	s.Stage(ctx, root)
	s.DrainPending()

	// second update drops the child entirely
	root2 := jsonvalue.NewObject()
	root2.Set("items♭", []any{})
	if err := s.Stage(ctx, root2); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	pending := s.DrainPending()

	childID := types.ObjectID("id-1")
	childRevs, ok := pending[childID]
	if !ok || len(childRevs) != 1 || !childRevs[0].Deleted {
		t.Fatalf("pending[%s] = %v, want exactly 1 deletion revision", childID, childRevs)
	}

	childTree, _ := objects.TreeIfExists(childID)
	winner, _ := childTree.Winner()
	if !winner.Deleted {
		t.Error("child's winner should be the deletion revision")
	}
}

func TestResolveAsCollapsesConflict(t *testing.T) {
	s, objects := newStaging(t)
	tree := objects.Tree("obj-1")
	tree.Insert(types.Revision{ID: "1-aaa", Gen: 1, ValueHash: "h1"})
	tree.Insert(types.Revision{ID: "1-bbb", Gen: 1, ValueHash: "h2"})

	if !tree.InConflict() {
		t.Fatal("setup: expected a conflict")
	}

	if err := s.ResolveAs("obj-1", "1-bbb"); err != nil {
		t.Fatalf("ResolveAs: %v", err)
	}

	winner, ok := tree.Winner()
	if !ok {
		t.Fatal("expected a winner after ResolveAs")
	}
	if winner.ValueHash != "h2" {
		t.Errorf("winner.ValueHash = %q, want h2 (value of 1-bbb)", winner.ValueHash)
	}
	if tree.InConflict() {
		t.Error("tree should no longer be in conflict after ResolveAs")
	}
}

func TestResolveAsUnknownObject(t *testing.T) {
	s, _ := newStaging(t)
	if err := s.ResolveAs("missing", "1-aaa"); err == nil {
		t.Fatal("expected error resolving an unknown object")
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
}
