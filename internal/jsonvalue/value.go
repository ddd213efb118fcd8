// Package jsonvalue defines Melda's dynamic JSON value representation.
//
// A document is built from the usual JSON primitives (string, float64,
// bool, nil), []any for arrays, and *Object for objects. Object uses an
// ordered map rather than a plain Go map so that an object keeps the key
// order in which it was built or decoded (values read back from a pack
// are stored key-sorted, so they decode in that order); hashing
// (see internal/hashing) separately re-sorts keys when it needs a
// canonical form, so insertion order never leaks into a content hash.
package jsonvalue

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is an insertion-ordered JSON object.
type Object = orderedmap.OrderedMap[string, any]

// NewObject returns an empty ordered JSON object.
func NewObject() *Object {
	return orderedmap.New[string, any]()
}

// AsObject type-asserts v as an *Object, returning ok=false for any other
// JSON shape (including nil).
func AsObject(v any) (*Object, bool) {
	o, ok := v.(*Object)
	return o, ok
}

// AsArray type-asserts v as a JSON array.
func AsArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// Clone deep-copies a JSON value built from Object/[]any/primitives.
func Clone(v any) any {
	switch t := v.(type) {
	case *Object:
		out := NewObject()
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, Clone(pair.Value))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return t
	}
}

// Keys returns an object's keys in insertion order.
func Keys(o *Object) []string {
	keys := make([]string, 0, o.Len())
	for pair := o.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}
