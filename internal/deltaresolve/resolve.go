// Package deltaresolve reconstructs a delta-array field's full ID
// sequence by walking a revision's parent chain and replaying patches
// (spec §4.6 step 4), memoizing per (object, revision, field) so the
// walk stays amortized linear as §4.6 requires. Both the Staging Layer
// (to compute a new patch's base) and the Read/Materializer (to expand
// a stored patch back into the user-visible array) share this resolver
// so the two never drift on what "the previous value" means.
package deltaresolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/meldahq/melda/internal/diffscript"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/objectstore"
	"github.com/meldahq/melda/internal/pack"
	"github.com/meldahq/melda/internal/types"
)

// Resolver reconstructs delta-array fields on demand.
type Resolver struct {
	objects *objectstore.Store
	packs   *pack.Store

	mu   sync.Mutex
	memo map[memoKey][]string
}

type memoKey struct {
	object types.ObjectID
	rev    types.RevID
	field  string
}

// New returns a Resolver over the given Object Store and Data Pack
// Store.
func New(objects *objectstore.Store, packs *pack.Store) *Resolver {
	return &Resolver{objects: objects, packs: packs, memo: make(map[memoKey][]string)}
}

// ResolveField returns the full ID sequence stored under field in rev's
// value, recursively expanding a patch form via rev's parent chain.
// Returns (nil, nil) if rev is a deletion or the field is absent.
func (r *Resolver) ResolveField(ctx context.Context, objID types.ObjectID, rev types.Revision, field string) ([]string, error) {
	if rev.Deleted {
		return nil, nil
	}
	key := memoKey{object: objID, rev: rev.ID, field: field}
	r.mu.Lock()
	if cached, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	raw, err := r.packs.Get(ctx, rev.ValueHash)
	if err != nil {
		return nil, fmt.Errorf("resolving field %q of %s@%s: %w", field, objID, rev.ID, err)
	}
	obj, ok := jsonvalue.AsObject(raw)
	if !ok {
		return nil, fmt.Errorf("resolving field %q of %s@%s: value is not an object", field, objID, rev.ID)
	}
	fv, ok := obj.Get(field)
	if !ok {
		return nil, nil
	}

	var result []string
	if arr, ok := jsonvalue.AsArray(fv); ok {
		result, err = stringsFromArray(arr)
		if err != nil {
			return nil, fmt.Errorf("field %q of %s@%s: %w", field, objID, rev.ID, err)
		}
	} else {
		script, ok, err := decodeScript(fv)
		if err != nil {
			return nil, fmt.Errorf("field %q of %s@%s: %w", field, objID, rev.ID, err)
		}
		if !ok {
			return nil, fmt.Errorf("field %q of %s@%s: neither a plain array nor a patch form", field, objID, rev.ID)
		}

		var base []string
		if len(rev.Parents) > 0 {
			// The base is the parent that wins the tie-break (highest gen,
			// then largest ID): the Staging Layer diffs against the winner,
			// and rev's parents are the leaves that winner was chosen from.
			tree := r.objects.Tree(objID)
			var parentRev types.Revision
			for i, pid := range rev.Parents {
				p, ok := tree.Get(pid)
				if !ok {
					return nil, fmt.Errorf("%w: parent %s of %s@%s", types.ErrUnknownRevision, pid, objID, rev.ID)
				}
				if i == 0 || p.Gen > parentRev.Gen || (p.Gen == parentRev.Gen && p.ID > parentRev.ID) {
					parentRev = p
				}
			}
			base, err = r.ResolveField(ctx, objID, parentRev, field)
			if err != nil {
				return nil, err
			}
		}
		result, err = diffscript.Apply(base, script)
		if err != nil {
			return nil, fmt.Errorf("field %q of %s@%s: %w", field, objID, rev.ID, err)
		}
	}

	r.mu.Lock()
	r.memo[key] = result
	r.mu.Unlock()
	return result, nil
}

// Reset clears the memoization cache, used by reload_until/refresh when
// the loaded revision set changes underneath the resolver.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[memoKey][]string)
}

// EncodeScript turns a diffscript.Script into its canonical JSON
// representation, {"base_length": N, "patch_ops": [...]}, for storage
// inside a field's staged value.
func EncodeScript(s diffscript.Script) any {
	ops := make([]any, len(s.Ops))
	for i, op := range s.Ops {
		o := jsonvalue.NewObject()
		if op.Insert {
			o.Set("op", "ins")
		} else {
			o.Set("op", "del")
		}
		o.Set("pos", float64(op.Pos))
		ids := make([]any, len(op.IDs))
		for j, id := range op.IDs {
			ids[j] = id
		}
		o.Set("ids", ids)
		ops[i] = o
	}
	out := jsonvalue.NewObject()
	out.Set("base_length", float64(s.BaseLength))
	out.Set("patch_ops", ops)
	return out
}

func decodeScript(v any) (diffscript.Script, bool, error) {
	obj, ok := jsonvalue.AsObject(v)
	if !ok {
		return diffscript.Script{}, false, nil
	}
	blRaw, ok := obj.Get("base_length")
	if !ok {
		return diffscript.Script{}, false, nil
	}
	opsRaw, ok := obj.Get("patch_ops")
	if !ok {
		return diffscript.Script{}, false, nil
	}
	bl, ok := blRaw.(float64)
	if !ok {
		return diffscript.Script{}, true, fmt.Errorf("base_length is not a number")
	}
	opsArr, ok := jsonvalue.AsArray(opsRaw)
	if !ok {
		return diffscript.Script{}, true, fmt.Errorf("patch_ops is not an array")
	}

	ops := make([]diffscript.Op, len(opsArr))
	for i, raw := range opsArr {
		o, ok := jsonvalue.AsObject(raw)
		if !ok {
			return diffscript.Script{}, true, fmt.Errorf("patch op %d is not an object", i)
		}
		opName, _ := o.Get("op")
		posRaw, _ := o.Get("pos")
		idsRaw, _ := o.Get("ids")
		pos, ok := posRaw.(float64)
		if !ok {
			return diffscript.Script{}, true, fmt.Errorf("patch op %d: pos is not a number", i)
		}
		idsArr, ok := jsonvalue.AsArray(idsRaw)
		if !ok {
			return diffscript.Script{}, true, fmt.Errorf("patch op %d: ids is not an array", i)
		}
		ids := make([]string, len(idsArr))
		for j, e := range idsArr {
			s, _ := e.(string)
			ids[j] = s
		}
		ops[i] = diffscript.Op{Insert: opName == "ins", Pos: int(pos), IDs: ids}
	}

	return diffscript.Script{BaseLength: int(bl), Ops: ops}, true, nil
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
