// Package deltablock implements the Delta Block Store (spec §4.3):
// canonical serialization of a commit's metadata and per-object revision
// deltas, content-addressed and chained by parent block pointers.
package deltablock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/meldahq/melda/internal/adapter"
	"github.com/meldahq/melda/internal/hashing"
	"github.com/meldahq/melda/internal/types"
)

// Store writes, reads, validates, and caches delta blocks against an
// adapter.
type Store struct {
	a adapter.Adapter

	mu    sync.Mutex
	cache map[string]*types.DeltaBlock
}

// New returns a Delta Block Store backed by a.
func New(a adapter.Adapter) *Store {
	return &Store{a: a, cache: make(map[string]*types.DeltaBlock)}
}

// Write serializes a block canonically (spec §6), computes its ID, and
// writes it through the adapter.
func (s *Store) Write(ctx context.Context, parents []string, info any, packs []string, changes map[types.ObjectID][]types.ObjectChange) (string, error) {
	body, err := canonicalBody(parents, info, packs, changes)
	if err != nil {
		return "", err
	}
	id := hashing.BlockID(body)
	if err := s.a.WriteObject(ctx, adapter.DeltaKey(id), body); err != nil {
		return "", fmt.Errorf("%w: writing block %s: %v", types.ErrAdapterFailure, id, err)
	}

	block := &types.DeltaBlock{
		ID:      id,
		Parents: sortedStrings(parents),
		Info:    info,
		Packs:   sortedStrings(packs),
		Changes: changes,
	}
	s.mu.Lock()
	s.cache[id] = block
	s.mu.Unlock()
	return id, nil
}

// Read loads and validates a block by ID, caching the result. The
// computed hash of the loaded bytes must match blockID or
// types.ErrCorruptBlock is returned.
func (s *Store) Read(ctx context.Context, blockID string) (*types.DeltaBlock, error) {
	s.mu.Lock()
	if b, ok := s.cache[blockID]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	raw, err := s.a.ReadObject(ctx, adapter.DeltaKey(blockID), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: reading block %s: %v", types.ErrAdapterFailure, blockID, err)
	}
	if got := hashing.BlockID(raw); got != blockID {
		return nil, fmt.Errorf("%w: block %s hash mismatch (got %s)", types.ErrCorruptBlock, blockID, got)
	}
	block, err := decodeBlock(blockID, raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[blockID] = block
	s.mu.Unlock()
	return block, nil
}

// List enumerates all block IDs known to the adapter.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.a.ListObjects(ctx, adapter.DeltaPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: listing blocks: %v", types.ErrAdapterFailure, err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, adapter.DeltaPrefix)
	}
	return ids, nil
}

// wireChange is the canonical per-revision entry inside "d".
type wireChange struct {
	R string   `json:"r"`
	P []string `json:"p"`
	V any      `json:"v"`
	X bool     `json:"x"`
}

func canonicalBody(parents []string, info any, packs []string, changes map[types.ObjectID][]types.ObjectChange) ([]byte, error) {
	d := make(map[string][]wireChange, len(changes))
	for obj, revs := range changes {
		wire := make([]wireChange, len(revs))
		for i, r := range revs {
			var v any
			if !r.Deleted {
				v = r.Value
			}
			parentStrs := make([]string, len(r.Parents))
			for j, p := range r.Parents {
				parentStrs[j] = string(p)
			}
			sort.Strings(parentStrs)
			wire[i] = wireChange{R: string(r.Rev), P: parentStrs, V: v, X: r.Deleted}
		}
		sort.Slice(wire, func(i, j int) bool { return wire[i].R < wire[j].R })
		d[string(obj)] = wire
	}

	out := map[string]any{
		"p":  sortedStrings(parents),
		"i":  info,
		"d":  d,
		"pk": sortedStrings(packs),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("%w: encoding block: %v", types.ErrCorruptBlock, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeBlock(id string, raw []byte) (*types.DeltaBlock, error) {
	var wire struct {
		P  []string               `json:"p"`
		I  any                    `json:"i"`
		D  map[string][]wireChange `json:"d"`
		PK []string               `json:"pk"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: decoding block %s: %v", types.ErrCorruptBlock, id, err)
	}

	changes := make(map[types.ObjectID][]types.ObjectChange, len(wire.D))
	for obj, entries := range wire.D {
		converted := make([]types.ObjectChange, len(entries))
		for i, e := range entries {
			if _, err := types.ParseGen(types.RevID(e.R)); err != nil {
				return nil, fmt.Errorf("%w: block %s: object %s: %v", types.ErrCorruptBlock, id, obj, err)
			}
			parents := make([]types.RevID, len(e.P))
			for j, p := range e.P {
				if _, err := types.ParseGen(types.RevID(p)); err != nil {
					return nil, fmt.Errorf("%w: block %s: object %s: bad parent rev %q: %v", types.ErrCorruptBlock, id, obj, p, err)
				}
				parents[j] = types.RevID(p)
			}
			var valueHash string
			if !e.X {
				vh, ok := e.V.(string)
				if !ok {
					return nil, fmt.Errorf("%w: block %s: object %s: missing value hash for non-deleted revision", types.ErrCorruptBlock, id, obj)
				}
				valueHash = vh
			}
			converted[i] = types.ObjectChange{
				Rev:     types.RevID(e.R),
				Parents: parents,
				Value:   valueHash,
				Deleted: e.X,
			}
		}
		changes[types.ObjectID(obj)] = converted
	}

	return &types.DeltaBlock{
		ID:      id,
		Parents: wire.P,
		Info:    wire.I,
		Packs:   wire.PK,
		Changes: changes,
	}, nil
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
