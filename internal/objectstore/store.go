// Package objectstore implements the Object Store (spec §4.4/§4.5): it
// maps object IDs to their Revision Tree and resolves a revision's value
// from the Data Pack Store, demand-loading values lazily.
package objectstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/revtree"
	"github.com/meldahq/melda/internal/types"
)

// Store owns one Revision Tree per object ID known to the replica.
type Store struct {
	packs *pack.Store

	mu    sync.RWMutex
	trees map[types.ObjectID]*revtree.Tree
}

// New returns an empty Object Store backed by packs.
func New(packs *pack.Store) *Store {
	return &Store{packs: packs, trees: make(map[types.ObjectID]*revtree.Tree)}
}

// Tree returns the Revision Tree for id, creating an empty one if this
// is the first time id has been seen.
func (s *Store) Tree(id types.ObjectID) *revtree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[id]
	if !ok {
		t = revtree.New()
		s.trees[id] = t
	}
	return t
}

// TreeIfExists returns the Revision Tree for id without creating one.
func (s *Store) TreeIfExists(id types.ObjectID) (*revtree.Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[id]
	return t, ok
}

// Objects returns every object ID the store has a tree for.
func (s *Store) Objects() []types.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ObjectID, 0, len(s.trees))
	for id := range s.trees {
		out = append(out, id)
	}
	return out
}

// InConflict returns every object ID currently holding more than one
// leaf revision (spec §3 "Conflicts").
func (s *Store) InConflict() []types.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ObjectID
	for id, t := range s.trees {
		if t.InConflict() {
			out = append(out, id)
		}
	}
	return out
}

// Value resolves rev's payload through the Data Pack Store. Returns
// (nil, false, nil) for a deletion revision — the caller decides what
// "absent" means at its level (spec §4.6 step 2).
func (s *Store) Value(ctx context.Context, rev types.Revision) (any, bool, error) {
	if rev.Deleted {
		return nil, false, nil
	}
	v, err := s.packs.Get(ctx, rev.ValueHash)
	if err != nil {
		return nil, false, fmt.Errorf("resolving value for revision %s: %w", rev.ID, err)
	}
	return v, true, nil
}

// Reset discards every tree, used by reload_until to rebuild from a
// narrowed block set.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees = make(map[types.ObjectID]*revtree.Tree)
}
