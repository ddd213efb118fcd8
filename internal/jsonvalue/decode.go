package jsonvalue

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Decode parses raw JSON bytes into the engine's dynamic value
// representation (*Object for objects, []any for arrays, and the usual
// primitives), preserving each object's original source key order via
// gjson.Result.ForEach — unlike encoding/json's map[string]any decode,
// which iterates in an unspecified order and would lose the ordering
// Object exists to preserve.
func Decode(raw []byte) (any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalid)
	}
	return fromGJSON(gjson.ParseBytes(raw)), nil
}

func fromGJSON(r gjson.Result) any {
	switch {
	case r.IsObject():
		out := NewObject()
		r.ForEach(func(key, value gjson.Result) bool {
			out.Set(key.String(), fromGJSON(value))
			return true
		})
		return out
	case r.IsArray():
		var out []any
		r.ForEach(func(_, value gjson.Result) bool {
			out = append(out, fromGJSON(value))
			return true
		})
		return out
	case r.Type == gjson.Null:
		return nil
	case r.Type == gjson.Number:
		return r.Num
	case r.Type == gjson.String:
		return r.Str
	case r.Type == gjson.True:
		return true
	case r.Type == gjson.False:
		return false
	default:
		return nil
	}
}
