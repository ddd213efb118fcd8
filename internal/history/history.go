// Package history implements the History Navigator (spec §4.4 "Commit
// DAG", §4.6 "reload_until"/"refresh"): it tracks which delta blocks are
// currently loaded, derives the anchor set (loaded blocks with no loaded
// child), and imports a block's per-object revisions into the Object
// Store.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meldahq/melda/internal/deltablock"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/types"
)

// Navigator tracks the loaded subset of the commit DAG.
type Navigator struct {
	blocks  *deltablock.Store
	objects *objectstore.Store

	mu       sync.RWMutex
	loaded   map[string]*types.DeltaBlock
	children map[string]map[string]struct{}
}

// New returns a Navigator with nothing loaded yet.
func New(blocks *deltablock.Store, objects *objectstore.Store) *Navigator {
	return &Navigator{
		blocks:   blocks,
		objects:  objects,
		loaded:   make(map[string]*types.DeltaBlock),
		children: make(map[string]map[string]struct{}),
	}
}

// Load registers block as known and imports its revisions into the
// Object Store. Idempotent: loading an already-loaded block is a no-op
// and returns false.
func (n *Navigator) Load(block *types.DeltaBlock) bool {
	n.mu.Lock()
	if _, ok := n.loaded[block.ID]; ok {
		n.mu.Unlock()
		return false
	}
	n.loaded[block.ID] = block
	if n.children[block.ID] == nil {
		n.children[block.ID] = make(map[string]struct{})
	}
	for _, p := range block.Parents {
		if n.children[p] == nil {
			n.children[p] = make(map[string]struct{})
		}
		n.children[p][block.ID] = struct{}{}
	}
	n.mu.Unlock()

	n.importChanges(block)
	return true
}

func (n *Navigator) importChanges(block *types.DeltaBlock) {
	for objID, changes := range block.Changes {
		tree := n.objects.Tree(objID)
		for _, c := range changes {
			gen, err := types.ParseGen(c.Rev)
			if err != nil {
				// Already validated by deltablock.Store.Read/decodeBlock;
				// a failure here would mean a bypassed Read path.
				continue
			}
			tree.Insert(types.Revision{
				ID:          c.Rev,
				Gen:         gen,
				Parents:     c.Parents,
				ValueHash:   c.Value,
				Deleted:     c.Deleted,
				SourceBlock: block.ID,
			})
		}
	}
}

// Has reports whether blockID is currently loaded.
func (n *Navigator) Has(blockID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.loaded[blockID]
	return ok
}

// Block returns a currently-loaded block by ID.
func (n *Navigator) Block(blockID string) (*types.DeltaBlock, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b, ok := n.loaded[blockID]
	return b, ok
}

// Loaded returns every currently-loaded block ID.
func (n *Navigator) Loaded() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.loaded))
	for id := range n.loaded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Anchors returns every loaded block with no loaded child, sorted for
// determinism (spec §3 "Commit DAG").
func (n *Navigator) Anchors() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []string
	for id := range n.loaded {
		if len(n.children[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Refresh rescans the adapter (via the Delta Block Store) for block IDs
// not yet loaded and imports each one (spec §4.6 "refresh()"). Returns
// the IDs newly loaded.
func (n *Navigator) Refresh(ctx context.Context) ([]string, error) {
	all, err := n.blocks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	var newIDs []string
	for _, id := range all {
		if n.Has(id) {
			continue
		}
		block, err := n.blocks.Read(ctx, id)
		if err != nil {
			return newIDs, fmt.Errorf("refresh: reading block %s: %w", id, err)
		}
		if n.Load(block) {
			newIDs = append(newIDs, id)
		}
	}
	sort.Strings(newIDs)
	return newIDs, nil
}

// ReloadUntil restricts the loaded set to blockID's ancestor closure and
// rebuilds the Object Store's Revision Trees from just that subset
// (spec §4.6 "reload_until(block)").
func (n *Navigator) ReloadUntil(ctx context.Context, blockID string) error {
	closure := make(map[string]*types.DeltaBlock)
	queue := []string{blockID}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := closure[id]; ok {
			continue
		}
		block, err := n.blocks.Read(ctx, id)
		if err != nil {
			return fmt.Errorf("reload_until %s: reading block %s: %w", blockID, id, err)
		}
		closure[id] = block
		queue = append(queue, block.Parents...)
	}

	children := make(map[string]map[string]struct{}, len(closure))
	for id, block := range closure {
		if children[id] == nil {
			children[id] = make(map[string]struct{})
		}
		for _, p := range block.Parents {
			if children[p] == nil {
				children[p] = make(map[string]struct{})
			}
			children[p][id] = struct{}{}
		}
	}

	n.mu.Lock()
	n.loaded = closure
	n.children = children
	n.mu.Unlock()

	n.objects.Reset()
	for _, block := range orderedByParentCount(closure) {
		n.importChanges(block)
	}
	return nil
}

// orderedByParentCount returns blocks sorted by ascending parent count
// then ID, a cheap approximation of topological order that works
// because every referenced parent is itself a key of closure (blocks
// with fewer parents tend to sit closer to the origin); revtree.Insert
// tolerates any order regardless, holding revisions pending until their
// ancestors resolve, so this ordering is purely a minor optimization to
// avoid unnecessary pending/drain cycles.
func orderedByParentCount(closure map[string]*types.DeltaBlock) []*types.DeltaBlock {
	out := make([]*types.DeltaBlock, 0, len(closure))
	for _, b := range closure {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Parents) != len(out[j].Parents) {
			return len(out[i].Parents) < len(out[j].Parents)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
