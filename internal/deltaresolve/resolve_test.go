package deltaresolve

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/meldahq/melda/internal/adapter/memory"
	"github.com/meldahq/melda/internal/diffscript"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/types"
)

func setup(t *testing.T) (*Resolver, *objectstore.Store, *pack.Store) {
	t.Helper()
	packs := pack.New(memory.New(), 0)
	objects := objectstore.New(packs)
	return New(objects, packs), objects, packs
}

func putValue(t *testing.T, packs *pack.Store, field string, value any) string {
	t.Helper()
	obj := jsonvalue.NewObject()
	obj.Set(field, value)
	hash, err := packs.Put(obj)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return hash
}

func TestResolveFieldPlainArray(t *testing.T) {
	resolver, objects, packs := setup(t)
	hash := putValue(t, packs, "items", stringsToAny([]string{"a", "b", "c"}))

	tree := objects.Tree("obj-1")
	rev := types.Revision{ID: "1-aaa", Gen: 1, ValueHash: hash}
	tree.Insert(rev)

	got, err := resolver.ResolveField(context.Background(), "obj-1", rev, "items")
	if err != nil {
		t.Fatalf("ResolveField: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("ResolveField mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFieldPatchChain(t *testing.T) {
	resolver, objects, packs := setup(t)
	tree := objects.Tree("obj-1")

	baseHash := putValue(t, packs, "items", stringsToAny([]string{"a", "b"}))
	baseRev := types.Revision{ID: "1-aaa", Gen: 1, ValueHash: baseHash}
	tree.Insert(baseRev)

	script := diffscript.Compute([]string{"a", "b"}, []string{"a", "b", "c"})
	patchHash := putValue(t, packs, "items", EncodeScript(script))
	patchRev := types.Revision{ID: "2-bbb", Gen: 2, Parents: []types.RevID{"1-aaa"}, ValueHash: patchHash}
	tree.Insert(patchRev)

	got, err := resolver.ResolveField(context.Background(), "obj-1", patchRev, "items")
	if err != nil {
		t.Fatalf("ResolveField: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("ResolveField mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFieldMemoizes(t *testing.T) {
	resolver, objects, packs := setup(t)
	tree := objects.Tree("obj-1")
	hash := putValue(t, packs, "items", stringsToAny([]string{"a"}))
	rev := types.Revision{ID: "1-aaa", Gen: 1, ValueHash: hash}
	tree.Insert(rev)

	first, err := resolver.ResolveField(context.Background(), "obj-1", rev, "items")
	if err != nil {
		t.Fatalf("ResolveField: %v", err)
	}
	key := memoKey{object: "obj-1", rev: "1-aaa", field: "items"}
	if _, ok := resolver.memo[key]; !ok {
		t.Fatal("expected ResolveField to populate the memo cache")
	}

	second, err := resolver.ResolveField(context.Background(), "obj-1", rev, "items")
	if err != nil {
		t.Fatalf("ResolveField: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("memoized result differs from first call (-first +second):\n%s", diff)
	}
}

func TestResolveFieldDeletedRevision(t *testing.T) {
	resolver, _, _ := setup(t)
	got, err := resolver.ResolveField(context.Background(), "obj-1", types.Revision{Deleted: true}, "items")
	if err != nil {
		t.Fatalf("ResolveField: %v", err)
	}
	if got != nil {
		t.Errorf("ResolveField(deleted) = %v, want nil", got)
	}
}

func TestResetClearsMemo(t *testing.T) {
	resolver, objects, packs := setup(t)
	tree := objects.Tree("obj-1")
	hash := putValue(t, packs, "items", stringsToAny([]string{"a"}))
	rev := types.Revision{ID: "1-aaa", Gen: 1, ValueHash: hash}
	tree.Insert(rev)
	resolver.ResolveField(context.Background(), "obj-1", rev, "items")

	resolver.Reset()
	if len(resolver.memo) != 0 {
		t.Error("Reset should clear the memo map")
	}
}

func stringsToAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
