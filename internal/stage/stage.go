// Package stage implements the Update/Staging Layer (spec §4.5): it
// walks an incoming JSON object, applies the flatten (♭) and delta-array
// (Δ) reserved-key conventions, and installs the resulting revisions
// into the Object Store's Revision Trees and their values into the Data
// Pack Store, pending the next commit.
//
// Flatten and delta-array conventions are recognized on an object's own
// top-level keys; a convention key nested inside a plain (non-flatten)
// sub-value is treated as ordinary data. This mirrors how the reference
// engine scopes "every object visited" to the objects flatten actually
// introduces, and keeps delta-base lookups a plain key rather than a
// JSON path.
package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meldahq/melda/internal/deltaresolve"
	"github.com/meldahq/melda/internal/diffscript"
	"github.com/meldahq/melda/internal/hashing"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/types"
)

const (
	flattenSuffix = "♭"
	deltaPrefix   = "Δ"
)

// Staging is the Update/Staging Layer over one replica's Object Store
// and Data Pack Store.
type Staging struct {
	objects  *objectstore.Store
	packs    *pack.Store
	resolver *deltaresolve.Resolver

	// NewID generates an object identifier for a child object that
	// arrives without an explicit "_id". Overridable in tests for
	// deterministic IDs; defaults to a random UUID per spec §4.5 step 1.
	NewID func() string

	mu      sync.Mutex
	pending map[types.ObjectID][]types.Revision
}

// New returns a Staging layer over the given stores, sharing resolver
// for delta-array base lookups with the Read/Materializer.
func New(objects *objectstore.Store, packs *pack.Store, resolver *deltaresolve.Resolver) *Staging {
	return &Staging{
		objects:  objects,
		packs:    packs,
		resolver: resolver,
		NewID:    uuid.NewString,
		pending:  make(map[types.ObjectID][]types.Revision),
	}
}

// HasPending reports whether any revision is currently staged, without
// draining it. The Commit Engine uses this to decide whether there is
// anything to commit before it seals a pack or writes a block.
func (s *Staging) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// DrainPending returns every revision staged since the last DrainPending
// call, grouped by object, and clears the accumulator. The Commit Engine
// calls this to build a delta block's "changes" (spec §4.5 "Commit"
// step 2), only once it has already committed to writing that block;
// on any failure afterward it must call PutBackPending with the same
// map so the staged revisions are not lost.
func (s *Staging) DrainPending() map[types.ObjectID][]types.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = make(map[types.ObjectID][]types.Revision)
	return out
}

// PutBackPending restores revisions previously removed by DrainPending,
// merging them ahead of anything staged in the meantime. Used by the
// Commit Engine to undo a drain when the commit could not be completed,
// preserving spec §4.5.6 / §7's atomicity guarantee that a failed commit
// leaves the staged state intact for retry.
func (s *Staging) PutBackPending(changes map[types.ObjectID][]types.Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, revs := range changes {
		merged := make([]types.Revision, 0, len(revs)+len(s.pending[id]))
		merged = append(merged, revs...)
		merged = append(merged, s.pending[id]...)
		s.pending[id] = merged
	}
}

func (s *Staging) recordPending(id types.ObjectID, rev types.Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = append(s.pending[id], rev)
}

// Stage walks root as the user's desired next state of the whole
// document, staging a new revision for every object whose canonical
// value actually changed, and a deletion revision for every
// previously-live object the walk did not visit.
func (s *Staging) Stage(ctx context.Context, root *jsonvalue.Object) error {
	if root == nil {
		return types.ErrNotAnObject
	}
	root.Set("_id", string(types.RootID))

	visited := make(map[types.ObjectID]struct{})
	if err := s.stageObject(ctx, types.RootID, root, visited); err != nil {
		return err
	}

	for _, id := range s.objects.Objects() {
		if id == types.RootID {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		if err := s.stageDeletion(id); err != nil {
			return fmt.Errorf("staging deletion of %s: %w", id, err)
		}
	}
	return nil
}

// ResolveAs emits a fresh revision for objID whose parents are all
// current leaves and whose value matches target's (spec §4.5
// "Resolve"), collapsing a conflict onto one of its existing
// revisions without introducing new content.
func (s *Staging) ResolveAs(objID types.ObjectID, target types.RevID) error {
	tree, ok := s.objects.TreeIfExists(objID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownObject, objID)
	}
	targetRev, ok := tree.Get(target)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownRevision, target)
	}

	leaves := tree.Leaves()
	gen := hashing.NextGen(parentGens(tree, leaves))
	revID := hashing.RevID(gen, targetRev.ValueHash, leaves)
	rev := types.Revision{
		ID:        revID,
		Gen:       gen,
		Parents:   types.SortedParents(leaves),
		ValueHash: targetRev.ValueHash,
		Deleted:   targetRev.Deleted,
	}
	tree.Insert(rev)
	s.recordPending(objID, rev)
	return nil
}

func (s *Staging) stageObject(ctx context.Context, id types.ObjectID, obj *jsonvalue.Object, visited map[types.ObjectID]struct{}) error {
	visited[id] = struct{}{}
	obj.Set("_id", string(id))

	canonical, err := s.canonicalizeObject(ctx, id, obj, visited)
	if err != nil {
		return fmt.Errorf("object %s: %w", id, err)
	}
	hash, err := hashing.HashValue(canonical)
	if err != nil {
		return fmt.Errorf("object %s: %w", id, err)
	}

	tree := s.objects.Tree(id)
	if winner, ok := tree.Winner(); ok && !winner.Deleted && winner.ValueHash == hash {
		return nil
	}

	leaves := tree.Leaves()
	gen := hashing.NextGen(parentGens(tree, leaves))
	revID := hashing.RevID(gen, hash, leaves)

	if _, err := s.packs.Put(canonical); err != nil {
		return fmt.Errorf("object %s: %w", id, err)
	}
	rev := types.Revision{
		ID:        revID,
		Gen:       gen,
		Parents:   types.SortedParents(leaves),
		ValueHash: hash,
	}
	tree.Insert(rev)
	s.recordPending(id, rev)
	return nil
}

func (s *Staging) stageDeletion(id types.ObjectID) error {
	tree := s.objects.Tree(id)
	winner, ok := tree.Winner()
	if !ok || winner.Deleted {
		return nil
	}

	leaves := tree.Leaves()
	gen := hashing.NextGen(parentGens(tree, leaves))
	revID := hashing.RevID(gen, "", leaves)
	rev := types.Revision{
		ID:      revID,
		Gen:     gen,
		Parents: types.SortedParents(leaves),
		Deleted: true,
	}
	tree.Insert(rev)
	s.recordPending(id, rev)
	return nil
}

// canonicalizeObject applies the flatten/delta-array conventions to
// obj's top-level fields, recursively staging each flattened child, and
// returns the value that will be hashed and stored for id.
func (s *Staging) canonicalizeObject(ctx context.Context, id types.ObjectID, obj *jsonvalue.Object, visited map[types.ObjectID]struct{}) (*jsonvalue.Object, error) {
	out := jsonvalue.NewObject()
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		key, value := pair.Key, pair.Value
		base, hasDelta := strings.CutPrefix(key, deltaPrefix)
		if !strings.HasSuffix(base, flattenSuffix) {
			out.Set(key, jsonvalue.Clone(value))
			continue
		}

		arr, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q: flatten value must be a JSON array", key)
		}
		childIDs := make([]string, len(arr))
		for i, el := range arr {
			childObj, ok := el.(*jsonvalue.Object)
			if !ok {
				return nil, fmt.Errorf("field %q: element %d is not a JSON object", key, i)
			}
			childID, err := s.resolveChildID(childObj)
			if err != nil {
				return nil, fmt.Errorf("field %q: element %d: %w", key, i, err)
			}
			if err := s.stageObject(ctx, childID, childObj, visited); err != nil {
				return nil, err
			}
			childIDs[i] = string(childID)
		}

		if !hasDelta {
			out.Set(key, stringsToAny(childIDs))
			continue
		}

		baseIDs, err := s.previousFieldValue(ctx, id, key)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		script := diffscript.Compute(baseIDs, childIDs)
		out.Set(key, deltaresolve.EncodeScript(script))
	}
	return out, nil
}

// resolveChildID honors an explicit "_id" on a flattened element, or
// assigns a fresh one, per spec §4.5 step 1.
func (s *Staging) resolveChildID(childObj *jsonvalue.Object) (types.ObjectID, error) {
	if v, ok := childObj.Get("_id"); ok {
		str, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("_id must be a string")
		}
		return types.ObjectID(str), nil
	}
	id := types.ObjectID(s.NewID())
	childObj.Set("_id", string(id))
	return id, nil
}

// previousFieldValue returns the full ID sequence the owner's current
// winner revision holds under field, expanding a patch form if needed.
// Returns nil (an empty base) if the owner or field has no prior value.
func (s *Staging) previousFieldValue(ctx context.Context, owner types.ObjectID, field string) ([]string, error) {
	tree, ok := s.objects.TreeIfExists(owner)
	if !ok {
		return nil, nil
	}
	winner, ok := tree.Winner()
	if !ok || winner.Deleted {
		return nil, nil
	}
	return s.resolver.ResolveField(ctx, owner, winner, field)
}

func parentGens(tree interface {
	Get(types.RevID) (types.Revision, bool)
}, leaves []types.RevID) []int {
	gens := make([]int, len(leaves))
	for i, l := range leaves {
		rev, _ := tree.Get(l)
		gens[i] = rev.Gen
	}
	return gens
}

func stringsToAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
