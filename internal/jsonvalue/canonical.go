package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is returned by Canonicalize when a value cannot be put into
// canonical form (e.g. a non-finite float64).
var ErrInvalid = errors.New("jsonvalue: value is not canonicalizable")

// Canonicalize serializes v into its canonical byte form: object keys in
// lexicographic order, no insignificant whitespace, numbers in their
// shortest round-trip form (delegated to encoding/json, which already
// picks the shortest decimal that reparses to the same float64), and
// strings as UTF-8. This is the only place in the engine that cares about
// key order versus hash order — callers that need the live, insertion
// ordered value must keep their own *Object around.
func Canonicalize(v any) ([]byte, error) {
	sorted, err := sortedCopy(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sorted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	// json.Encoder.Encode always appends a trailing newline; canonical
	// form has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sortedCopy converts Object values (insertion-ordered) into a form whose
// encoding/json output is fully key-sorted: a plain map[string]any, since
// the standard encoder sorts map[string]any keys lexicographically.
func sortedCopy(v any) (any, error) {
	switch t := v.(type) {
	case *Object:
		out := make(map[string]any, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			sv, err := sortedCopy(pair.Value)
			if err != nil {
				return nil, err
			}
			out[pair.Key] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			sv, err := sortedCopy(e)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite number %v", ErrInvalid, t)
		}
		return t, nil
	default:
		return t, nil
	}
}
