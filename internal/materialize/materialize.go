// Package materialize implements the Read/Materializer (spec §4.6): it
// walks the Object Store from the root using each object's current
// winner revision, expanding flatten (♭) and delta-array (Δ) fields
// back into the JSON shape the user originally staged.
package materialize

import (
	"context"
	"fmt"
	"strings"

	"github.com/meldahq/melda/internal/deltaresolve"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/types"
)

const (
	flattenSuffix = "♭"
	deltaPrefix   = "Δ"
)

// Materializer reconstructs the current JSON view of a replica.
type Materializer struct {
	objects  *objectstore.Store
	resolver *deltaresolve.Resolver
}

// New returns a Materializer over objects, sharing resolver with the
// Staging Layer so delta-array reconstruction is consistent across
// both.
func New(objects *objectstore.Store, resolver *deltaresolve.Resolver) *Materializer {
	return &Materializer{objects: objects, resolver: resolver}
}

// Read builds the current materialized document starting at the root
// object. An empty/never-staged replica reads back as just {"_id":"√"}.
func (m *Materializer) Read(ctx context.Context) (*jsonvalue.Object, error) {
	obj, present, err := m.materializeObject(ctx, types.RootID, make(map[types.ObjectID]bool))
	if err != nil {
		return nil, err
	}
	if !present {
		out := jsonvalue.NewObject()
		out.Set("_id", string(types.RootID))
		return out, nil
	}
	return obj, nil
}

// materializeObject resolves id's winner and expands its value. present
// is false if id is unknown or its winner is a deletion.
func (m *Materializer) materializeObject(ctx context.Context, id types.ObjectID, stack map[types.ObjectID]bool) (*jsonvalue.Object, bool, error) {
	if stack[id] {
		return nil, false, fmt.Errorf("%w: %s", types.ErrCyclicReference, id)
	}

	tree, ok := m.objects.TreeIfExists(id)
	if !ok {
		return nil, false, nil
	}
	winner, ok := tree.Winner()
	if !ok || winner.Deleted {
		return nil, false, nil
	}

	raw, _, err := m.objects.Value(ctx, winner)
	if err != nil {
		return nil, false, err
	}
	obj, ok := jsonvalue.AsObject(raw)
	if !ok {
		return nil, false, fmt.Errorf("object %s: stored value is not a JSON object", id)
	}

	stack[id] = true
	defer delete(stack, id)

	out := jsonvalue.NewObject()
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		key, value := pair.Key, pair.Value
		base, hasDelta := strings.CutPrefix(key, deltaPrefix)
		if !strings.HasSuffix(base, flattenSuffix) {
			out.Set(key, jsonvalue.Clone(value))
			continue
		}

		var ids []string
		if hasDelta {
			ids, err = m.resolver.ResolveField(ctx, id, winner, key)
			if err != nil {
				return nil, false, fmt.Errorf("object %s: field %q: %w", id, key, err)
			}
		} else {
			arr, ok := jsonvalue.AsArray(value)
			if !ok {
				return nil, false, fmt.Errorf("object %s: field %q: not a JSON array", id, key)
			}
			ids, err = stringsFromArray(arr)
			if err != nil {
				return nil, false, fmt.Errorf("object %s: field %q: %w", id, key, err)
			}
		}

		children := make([]any, 0, len(ids))
		for _, childID := range ids {
			child, present, err := m.materializeObject(ctx, types.ObjectID(childID), stack)
			if err != nil {
				return nil, false, err
			}
			if !present {
				continue
			}
			children = append(children, child)
		}
		out.Set(key, children)
	}
	return out, true, nil
}

func stringsFromArray(arr []any) ([]string, error) {
	out := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("array element %d is not a string id", i)
		}
		out[i] = s
	}
	return out, nil
}
