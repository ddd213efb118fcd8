// Package revtree implements the per-object Revision Tree (spec §4.4):
// the DAG of known revisions, their parent links, the cached leaf set,
// and the deterministic winner tie-break.
package revtree

import (
	"strings"
	"sync"

	"github.com/meldahq/melda/internal/types"
)

// Tree is one object's revision DAG.
type Tree struct {
	mu sync.RWMutex

	resolved map[types.RevID]types.Revision
	children map[types.RevID]map[types.RevID]struct{}
	pending  map[types.RevID]types.Revision // accepted but ancestors not all present yet
	leaves   map[types.RevID]struct{}

	winner   types.RevID
	hasWinner bool
}

// New returns an empty Revision Tree.
func New() *Tree {
	return &Tree{
		resolved: make(map[types.RevID]types.Revision),
		children: make(map[types.RevID]map[types.RevID]struct{}),
		pending:  make(map[types.RevID]types.Revision),
		leaves:   make(map[types.RevID]struct{}),
	}
}

// Insert adds rev to the tree. Idempotent: inserting a revision already
// present (resolved or pending) is a no-op. Parents may be unknown at
// insertion time; the revision is held pending until all of its parents
// are resolved, per spec §9 Open Question (b) — the reference requires
// full ancestor presence before a revision is eligible as a leaf.
// Returns true if the leaf set (and therefore possibly the winner)
// changed as a result.
func (t *Tree) Insert(rev types.Revision) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.resolved[rev.ID]; ok {
		return false
	}
	if _, ok := t.pending[rev.ID]; ok {
		return false
	}

	rev.Parents = types.SortedParents(rev.Parents)
	t.pending[rev.ID] = rev

	return t.drainPending()
}

// drainPending repeatedly promotes pending revisions whose parents are
// now all resolved, until a fixed point. Must be called with t.mu held.
func (t *Tree) drainPending() bool {
	changed := false
	for {
		progressed := false
		for id, rev := range t.pending {
			if !t.allParentsResolved(rev.Parents) {
				continue
			}
			delete(t.pending, id)
			t.promote(rev)
			progressed = true
			changed = true
		}
		if !progressed {
			break
		}
	}
	if changed {
		t.invalidateWinner()
	}
	return changed
}

func (t *Tree) allParentsResolved(parents []types.RevID) bool {
	for _, p := range parents {
		if _, ok := t.resolved[p]; !ok {
			return false
		}
	}
	return true
}

// promote moves a fully-resolved revision into the resolved set, wiring
// up the reverse child index and the leaf set. Must be called with
// t.mu held.
func (t *Tree) promote(rev types.Revision) {
	t.resolved[rev.ID] = rev
	for _, p := range rev.Parents {
		if t.children[p] == nil {
			t.children[p] = make(map[types.RevID]struct{})
		}
		t.children[p][rev.ID] = struct{}{}
		delete(t.leaves, p)
	}
	// rev itself is a leaf unless something already resolved lists it as
	// a parent (only possible if that child arrived first while pending
	// on rev, in which case it would have been promoted above it in this
	// same drain pass and already removed rev from leaves).
	if _, hasChildren := t.children[rev.ID]; !hasChildren {
		t.leaves[rev.ID] = struct{}{}
	}
}

func (t *Tree) invalidateWinner() {
	t.hasWinner = false
	t.winner = ""
}

// Get returns a resolved revision by ID.
func (t *Tree) Get(id types.RevID) (types.Revision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.resolved[id]
	return r, ok
}

// Leaves returns the current leaf set: resolved revisions with no
// resolved child.
func (t *Tree) Leaves() []types.RevID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.RevID, 0, len(t.leaves))
	for id := range t.leaves {
		out = append(out, id)
	}
	return out
}

// InConflict reports whether the object currently has more than one
// leaf revision.
func (t *Tree) InConflict() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves) > 1
}

// IsEmpty reports whether the tree has no resolved revisions yet (the
// object does not exist).
func (t *Tree) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.resolved) == 0
}

// Winner returns the deterministically-chosen leaf revision: highest
// gen, then lexicographically-largest hash portion of the revision ID
// (spec §4.4, frozen per §9 Open Question (a)). ok is false iff the tree
// has no leaves (empty tree).
func (t *Tree) Winner() (types.Revision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.winnerLocked()
}

func (t *Tree) winnerLocked() (types.Revision, bool) {
	if t.hasWinner {
		if t.winner == "" {
			return types.Revision{}, false
		}
		return t.resolved[t.winner], true
	}

	var best types.RevID
	var bestRev types.Revision
	found := false
	for id := range t.leaves {
		rev := t.resolved[id]
		if !found || isBetter(rev, id, bestRev, best) {
			best, bestRev, found = id, rev, true
		}
	}
	t.hasWinner = true
	t.winner = best
	if !found {
		return types.Revision{}, false
	}
	return bestRev, true
}

func isBetter(candidate types.Revision, candidateID types.RevID, current types.Revision, currentID types.RevID) bool {
	if candidate.Gen != current.Gen {
		return candidate.Gen > current.Gen
	}
	return hashPortion(candidateID) > hashPortion(currentID)
}

func hashPortion(id types.RevID) string {
	_, hash, found := strings.Cut(string(id), "-")
	if !found {
		return string(id)
	}
	return hash
}

// AllResolved returns every resolved revision, for history/meld walks
// that need the full known set rather than just the leaves.
func (t *Tree) AllResolved() map[types.RevID]types.Revision {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.RevID]types.Revision, len(t.resolved))
	for k, v := range t.resolved {
		out[k] = v
	}
	return out
}

// PendingCount reports how many revisions are held pending on missing
// ancestors; exposed for diagnostics and tests.
func (t *Tree) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}
