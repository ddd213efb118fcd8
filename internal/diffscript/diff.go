// Package diffscript implements the delta-array minimal edit script
// (spec §4.5, §9 Open Question (c)): Melda freezes this as a Myers diff
// over the sequence of flattened child IDs, computed with
// github.com/sergi/go-diff/diffmatchpatch the way the retrieval pack's
// text-diffing stack (jrepp-hermes, steveyegge-beads) pulls that same
// library in. Each ID is treated as one "line" so the library's
// line-mode diff (built for exactly this kind of token-sequence diffing)
// does the matching.
package diffscript

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is one patch operation: an insertion of IDs at Pos, or a deletion
// of len(IDs) elements starting at Pos. For a deletion, IDs holds
// placeholder empty strings — only their count is meaningful, matching
// the canonical wire shape documented in SPEC_FULL.md.
type Op struct {
	Insert bool
	Pos    int
	IDs    []string
}

// Script is the stored form of a delta-array field: the length of the
// base (previous) sequence plus the ops to turn it into the next one.
type Script struct {
	BaseLength int
	Ops        []Op
}

// Compute returns the canonical minimal edit script turning prev into
// next.
func Compute(prev, next []string) Script {
	if len(prev) == 0 && len(next) == 0 {
		return Script{BaseLength: 0}
	}

	dmp := diffmatchpatch.New()
	text1, text2, lineArray := dmp.DiffLinesToChars(joinIDs(prev), joinIDs(next))
	diffs := dmp.DiffMain(text1, text2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []Op
	cursor := 0
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			cursor += len(lines)
		case diffmatchpatch.DiffDelete:
			placeholders := make([]string, len(lines))
			ops = append(ops, Op{Insert: false, Pos: cursor, IDs: placeholders})
			cursor += len(lines)
		case diffmatchpatch.DiffInsert:
			ops = append(ops, Op{Insert: true, Pos: cursor, IDs: lines})
		}
	}

	return Script{BaseLength: len(prev), Ops: ops}
}

// Apply reconstructs the next sequence given the base sequence and a
// previously computed Script.
func Apply(base []string, script Script) ([]string, error) {
	if len(base) != script.BaseLength {
		return nil, fmt.Errorf("diffscript: base length %d does not match script base length %d", len(base), script.BaseLength)
	}

	out := make([]string, 0, len(base)+len(script.Ops))
	baseCursor := 0
	for _, op := range script.Ops {
		if op.Pos < baseCursor || op.Pos > len(base) {
			return nil, fmt.Errorf("diffscript: op position %d out of range", op.Pos)
		}
		out = append(out, base[baseCursor:op.Pos]...)
		if op.Insert {
			out = append(out, op.IDs...)
			baseCursor = op.Pos
		} else {
			end := op.Pos + len(op.IDs)
			if end > len(base) {
				return nil, fmt.Errorf("diffscript: delete op runs past base end")
			}
			baseCursor = end
		}
	}
	out = append(out, base[baseCursor:]...)
	return out, nil
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return strings.Join(ids, "\n") + "\n"
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
