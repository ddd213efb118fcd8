// Package melda implements a delta-state, JSON-native CRDT replica: a
// single logical document built from plain JSON objects, versioned
// object-by-object through a content-addressed commit DAG, and merged
// across replicas by melding delta blocks rather than diffing documents.
//
// See the package's internal/ subpackages for each module: the Hasher &
// Identifier Service (internal/hashing), Data Pack Store (internal/pack),
// Delta Block Store (internal/deltablock), Revision Tree & Object Store
// (internal/revtree, internal/objectstore), Commit Engine & Update/
// Staging Layer (internal/commit, internal/stage), Read/Materializer
// (internal/materialize), Meld Controller (internal/meld), and History
// Navigator (internal/history).
package melda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/sjson"

	"github.com/meldahq/melda/internal/adapter"
	"github.com/meldahq/melda/internal/commit"
	"github.com/meldahq/melda/internal/config"
	"github.com/meldahq/melda/internal/deltablock"
	"github.com/meldahq/melda/internal/deltaresolve"
	"github.com/meldahq/melda/internal/history"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/materialize"
	"github.com/meldahq/melda/internal/meld"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/stage"
	"github.com/meldahq/melda/internal/types"
)

// Options is re-exported from internal/config so callers never need to
// import an internal package to configure a Replica.
type Options = config.Options

// Re-exported error sentinels (spec §7), so callers can errors.Is
// against melda.Err... without reaching into internal/types.
var (
	ErrAdapterFailure   = types.ErrAdapterFailure
	ErrCorruptBlock     = types.ErrCorruptBlock
	ErrCorruptPack      = types.ErrCorruptPack
	ErrUnknownObject    = types.ErrUnknownObject
	ErrUnknownRevision  = types.ErrUnknownRevision
	ErrCyclicReference  = types.ErrCyclicReference
	ErrNotAnObject      = types.ErrNotAnObject
	ErrHashInputInvalid = types.ErrHashInputInvalid
)

// ObjectID and RevID are re-exported for callers inspecting conflicts
// (InConflict) or resolving them (ResolveAs).
type (
	ObjectID = types.ObjectID
	RevID    = types.RevID
)

// RootID is the reserved identifier of the document's top-level object.
const RootID = types.RootID

// Replica is one local view of a Melda document over a single storage
// adapter. Per the engine's concurrency model (spec §5), a Replica's
// operations are mutually exclusive with one another but the type does
// not take its own lock around any single operation — embed or wrap it
// behind whatever exclusion the caller already has (a single goroutine,
// a mutex, an actor loop). The embedded RWMutex is provided for callers
// who want the default: Lock/Unlock around Update/Commit/Meld/Refresh/
// ReloadUntil/ResolveAs, RLock/RUnlock around Read/InConflict/Anchors.
type Replica struct {
	sync.RWMutex

	adapter adapter.Adapter
	opts    *Options

	packs        *pack.Store
	objects      *objectstore.Store
	resolver     *deltaresolve.Resolver
	staging      *stage.Staging
	materializer *materialize.Materializer
	nav          *history.Navigator
	commitEngine *commit.Engine
}

// Open wires a Replica over adapter a, loading any delta blocks and
// packs it already holds. A nil explicit uses built-in/environment/
// config-file defaults (internal/config).
func Open(ctx context.Context, a adapter.Adapter, explicit *Options) (*Replica, error) {
	opts, err := config.Load(explicit)
	if err != nil {
		return nil, fmt.Errorf("melda: loading config: %w", err)
	}

	packs := pack.New(a, opts.CacheCapacity)
	blocks := deltablock.New(a)
	objects := objectstore.New(packs)
	resolver := deltaresolve.New(objects, packs)
	staging := stage.New(objects, packs, resolver)
	materializer := materialize.New(objects, resolver)
	nav := history.New(blocks, objects)
	commitEngine := commit.New(staging, packs, blocks, nav)

	r := &Replica{
		adapter:      a,
		opts:         opts,
		packs:        packs,
		objects:      objects,
		resolver:     resolver,
		staging:      staging,
		materializer: materializer,
		nav:          nav,
		commitEngine: commitEngine,
	}

	if err := packs.IndexKnownPacks(ctx); err != nil {
		return nil, fmt.Errorf("melda: indexing packs: %w", err)
	}
	if _, err := nav.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("melda: loading blocks: %w", err)
	}
	return r, nil
}

// Update stages root as the document's desired next state (spec §4.5).
// Requires the caller hold the write lock.
func (r *Replica) Update(ctx context.Context, root *jsonvalue.Object) error {
	if err := r.staging.Stage(ctx, root); err != nil {
		return err
	}
	if r.packs.PendingCount() >= r.opts.PackSealThreshold {
		if _, _, err := r.packs.Seal(ctx); err != nil {
			return fmt.Errorf("melda: opportunistic seal: %w", err)
		}
	}
	return nil
}

// UpdateJSON decodes data as the document's desired next state and
// stages it. Before parsing, the top-level "_id" is set to the root
// identifier at the byte level (via sjson.SetBytes, mirroring spec §4.5
// step 1's "mutations to the input are permitted to record the assigned
// ID"), replacing any value already there. The returned bytes are the
// staged document, including the identifiers Melda assigned to
// flattened children. Requires the caller hold the write lock.
func (r *Replica) UpdateJSON(ctx context.Context, data []byte) ([]byte, error) {
	withID, err := sjson.SetBytes(data, "_id", string(RootID))
	if err != nil {
		return nil, fmt.Errorf("melda: injecting root _id: %w", err)
	}
	v, err := jsonvalue.Decode(withID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnObject, err)
	}
	root, ok := jsonvalue.AsObject(v)
	if !ok {
		return nil, ErrNotAnObject
	}
	if err := r.Update(ctx, root); err != nil {
		return nil, err
	}
	return json.Marshal(root)
}

// Commit drains pending updates into a new delta block (spec §4.5
// "Commit"). Requires the caller hold the write lock.
func (r *Replica) Commit(ctx context.Context, info any) (blockID string, ok bool, err error) {
	return r.commitEngine.Commit(ctx, info)
}

// Read materializes the current document (spec §4.6). Requires the
// caller hold at least the read lock.
func (r *Replica) Read(ctx context.Context) (*jsonvalue.Object, error) {
	return r.materializer.Read(ctx)
}

// ReadJSON materializes the current document and serializes it to JSON,
// preserving field order (OrderedMap implements json.Marshaler). A
// dedicated JSON-editing library has no role here: this is a full
// serialization of a typed value, not an incremental edit of existing
// text, so encoding/json is the right tool (see DESIGN.md). Requires
// the caller hold at least the read lock.
func (r *Replica) ReadJSON(ctx context.Context) ([]byte, error) {
	obj, err := r.Read(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// Meld imports every block (and the packs it references) that other
// holds and this replica does not yet (spec §4.7). Callers typically
// follow with Refresh to rebuild the materialized view. Requires the
// caller hold the write lock.
func (r *Replica) Meld(ctx context.Context, other adapter.Adapter) ([]string, error) {
	controller := meld.New(r.adapter, other, deltablock.New(r.adapter), r.nav)
	return controller.Meld(ctx)
}

// Refresh rescans this replica's own adapter for block IDs not yet
// loaded (spec §4.6 "refresh()"). Requires the caller hold the write
// lock (it mutates Revision Trees, even though it reads no staged
// updates).
func (r *Replica) Refresh(ctx context.Context) ([]string, error) {
	if err := r.packs.IndexKnownPacks(ctx); err != nil {
		return nil, fmt.Errorf("melda: indexing packs: %w", err)
	}
	return r.nav.Refresh(ctx)
}

// ReloadUntil narrows the loaded block set to blockID's ancestor
// closure and rebuilds the Revision Trees from it (spec §4.6
// "reload_until(block)"). Requires the caller hold the write lock.
func (r *Replica) ReloadUntil(ctx context.Context, blockID string) error {
	r.resolver.Reset()
	return r.nav.ReloadUntil(ctx, blockID)
}

// ResolveAs collapses a conflict on objID onto one of its existing
// revisions (spec §4.5 "Resolve"). Requires the caller hold the write
// lock.
func (r *Replica) ResolveAs(objID ObjectID, target RevID) error {
	return r.staging.ResolveAs(objID, target)
}

// InConflict lists every object currently holding more than one leaf
// revision (spec §3 "Conflicts"). Requires the caller hold at least the
// read lock.
func (r *Replica) InConflict() []ObjectID {
	return r.objects.InConflict()
}

// Anchors returns the current commit-DAG frontier (spec §3 "Commit
// DAG"). Requires the caller hold at least the read lock.
func (r *Replica) Anchors() []string {
	return r.nav.Anchors()
}
