// Package commit implements the Commit Engine (spec §4.5 "Commit"): it
// drains the Staging Layer's pending revisions into a new delta block,
// sealing whatever the Data Pack Store has buffered and advancing the
// replica's anchors to point at the new block alone.
package commit

import (
	"context"
	"fmt"
	"sync"

	"github.com/meldahq/melda/internal/deltablock"
	"github.com/meldahq/melda/internal/history"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/stage"
	"github.com/meldahq/melda/internal/types"
)

// Engine commits staged mutations into new delta blocks.
type Engine struct {
	staging *stage.Staging
	packs   *pack.Store
	blocks  *deltablock.Store
	nav     *history.Navigator

	mu sync.Mutex
	// pendingPackIDs holds pack IDs sealed by a prior Commit call whose
	// block write then failed. They ride along on the next attempt
	// instead of being re-sealed (the pack is already durable) or
	// silently dropped (which would desync "packs" from "changes").
	pendingPackIDs []string
}

// New returns a Commit Engine wiring the staging layer to the block and
// pack stores, advancing nav's anchors on every successful commit.
func New(staging *stage.Staging, packs *pack.Store, blocks *deltablock.Store, nav *history.Navigator) *Engine {
	return &Engine{staging: staging, packs: packs, blocks: blocks, nav: nav}
}

// Commit seals the pending pack, collects the pending revisions, writes
// a new delta block parented on the current anchors, and advances the
// anchor set to just that block. Returns ("", false, nil) if nothing was
// staged since the last commit.
//
// Per spec §4.5.6 / §7, a commit is atomic: either both the sealed pack
// and the new block become durable, or the staged state is left intact
// (the revisions stay pending, any pack already sealed on this attempt
// is remembered) so the caller may simply retry. Revisions are drained
// from Staging just before the block write and put back if that write
// fails.
func (e *Engine) Commit(ctx context.Context, info any) (blockID string, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hadPendingChanges := e.staging.HasPending()
	hadPendingPack := e.packs.HasPending()
	if len(e.pendingPackIDs) == 0 && !hadPendingChanges && !hadPendingPack {
		return "", false, nil
	}

	packIDs := append([]string(nil), e.pendingPackIDs...)
	if hadPendingPack {
		id, sealed, err := e.packs.Seal(ctx)
		if err != nil {
			return "", false, fmt.Errorf("commit: sealing pack: %w", err)
		}
		if sealed {
			packIDs = append(packIDs, id)
		}
	}

	changes := e.staging.DrainPending()
	if len(changes) == 0 && len(packIDs) == 0 {
		return "", false, nil
	}

	changesByString := make(map[types.ObjectID][]types.ObjectChange, len(changes))
	for obj, revs := range changes {
		entries := make([]types.ObjectChange, len(revs))
		for i, r := range revs {
			entries[i] = types.ObjectChange{
				Rev:     r.ID,
				Parents: r.Parents,
				Value:   r.ValueHash,
				Deleted: r.Deleted,
			}
		}
		changesByString[obj] = entries
	}

	parents := e.nav.Anchors()
	id, err := e.blocks.Write(ctx, parents, info, packIDs, changesByString)
	if err != nil {
		e.staging.PutBackPending(changes)
		e.pendingPackIDs = packIDs
		return "", false, fmt.Errorf("commit: writing block: %w", err)
	}
	e.pendingPackIDs = nil

	block, err := e.blocks.Read(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("commit: re-reading written block %s: %w", id, err)
	}
	e.nav.Load(block)
	return id, true, nil
}
