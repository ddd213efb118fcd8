// Package meld implements the Meld Controller (spec §4.7): it pulls
// delta blocks and their referenced data packs from a remote adapter
// into the local one and imports the new blocks into the Revision
// Trees. Meld never deletes local data and is idempotent.
package meld

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meldahq/melda/internal/adapter"
	"github.com/meldahq/melda/internal/deltablock"
	"github.com/meldahq/melda/internal/history"
	"github.com/meldahq/melda/internal/types"
)

// Controller melds a remote adapter's blocks and packs into the local
// replica.
type Controller struct {
	localAdapter  adapter.Adapter
	remoteAdapter adapter.Adapter
	remoteBlocks  *deltablock.Store
	localBlocks   *deltablock.Store
	nav           *history.Navigator
}

// New returns a Meld Controller that imports from remote into the
// stores backing local and nav.
func New(local, remote adapter.Adapter, localBlocks *deltablock.Store, nav *history.Navigator) *Controller {
	return &Controller{
		localAdapter:  local,
		remoteAdapter: remote,
		remoteBlocks:  deltablock.New(remote),
		localBlocks:   localBlocks,
		nav:           nav,
	}
}

// Meld imports every block known to the remote adapter that the local
// replica has not yet loaded, along with any data packs those blocks
// reference, fetching concurrently across blocks (spec §4.7 step 2).
// Returns the IDs of the blocks newly imported.
func (c *Controller) Meld(ctx context.Context) ([]string, error) {
	remoteIDs, err := c.remoteBlocks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("meld: listing remote blocks: %w", err)
	}

	var missing []string
	for _, id := range remoteIDs {
		if !c.nav.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	// Meld is best-effort per block (spec §4.7 step 2, §7): a single
	// block that fails to fetch or validate (e.g. a corrupt remote block
	// failing deltablock.Store.Read's hash check) is skipped, not fatal
	// to the rest of the meld. Only an inability to proceed at all —
	// here, failing to even list the remote's blocks, handled above —
	// aborts the whole call. Per-goroutine errors are therefore recorded
	// on fetched[i] and never returned to errgroup.Wait.
	fetched := make([]fetchedBlock, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range missing {
		g.Go(func() error {
			block, err := c.remoteBlocks.Read(gctx, id)
			if err != nil {
				fetched[i] = fetchedBlock{id: id, err: err}
				return nil
			}
			if err := c.copyPacks(gctx, block); err != nil {
				fetched[i] = fetchedBlock{id: id, err: err}
				return nil
			}
			raw, err := c.remoteAdapter.ReadObject(gctx, adapter.DeltaKey(id), 0, 0)
			if err != nil {
				fetched[i] = fetchedBlock{id: id, err: err}
				return nil
			}
			fetched[i] = fetchedBlock{id: id, raw: raw}
			return nil
		})
	}
	_ = g.Wait() // every goroutine above always returns nil; errors travel via fetched[i].err

	var imported []string
	for _, f := range fetched {
		if f.err != nil {
			continue
		}
		if err := c.localAdapter.WriteObject(ctx, adapter.DeltaKey(f.id), f.raw); err != nil {
			continue
		}
		loaded, err := c.localBlocks.Read(ctx, f.id)
		if err != nil {
			continue
		}
		c.nav.Load(loaded)
		imported = append(imported, f.id)
	}

	return imported, nil
}

type fetchedBlock struct {
	id  string
	raw []byte
	err error
}

// copyPacks streams every pack block references that is not already
// present in the local adapter.
func (c *Controller) copyPacks(ctx context.Context, block *types.DeltaBlock) error {
	for _, packID := range block.Packs {
		key := adapter.PackKey(packID)
		present, err := c.localAdapter.HasObject(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: meld: checking local pack %s: %v", types.ErrAdapterFailure, packID, err)
		}
		if present {
			continue
		}
		body, err := c.remoteAdapter.ReadObject(ctx, key, 0, 0)
		if err != nil {
			return fmt.Errorf("%w: meld: reading remote pack %s: %v", types.ErrAdapterFailure, packID, err)
		}
		if err := c.localAdapter.WriteObject(ctx, key, body); err != nil {
			return fmt.Errorf("%w: meld: writing pack %s locally: %v", types.ErrAdapterFailure, packID, err)
		}
	}
	return nil
}
