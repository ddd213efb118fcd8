// Package types holds the data model shared across Melda's engine
// packages: object and revision identifiers, the revision tuple, and the
// delta block envelope described in spec §3–§4.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RootID is the reserved object identifier of the top-level object of
// every document.
const RootID = "√"

// ObjectID identifies a logical unit of versioning: either user-supplied
// (the document's "_id" field) or engine-generated at staging time.
type ObjectID string

// RevID identifies one revision as "<generation>-<hex-hash>".
type RevID string

// Revision is one immutable snapshot of one object's history, as recorded
// in a Revision Tree.
type Revision struct {
	ID         RevID
	Gen        int
	Parents    []RevID // sorted, deduplicated
	ValueHash  string  // content hash of the value; "" when Deleted
	Deleted    bool
	SourceBlock string // ID of the delta block this revision was first seen in
}

// SortedParents returns a defensively-copied, sorted, deduplicated view of
// rev.Parents.
func SortedParents(parents []RevID) []RevID {
	seen := make(map[RevID]struct{}, len(parents))
	out := make([]RevID, 0, len(parents))
	for _, p := range parents {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObjectChange is one object's contribution to a delta block's "changes"
// map: the new revisions a commit introduced for that object.
type ObjectChange struct {
	Rev     RevID
	Parents []RevID
	Value   string // value hash, or "" when Deleted
	Deleted bool
}

// ParseGen extracts the generation prefix from a "<gen>-<hash>"
// revision ID, validating it is a positive integer.
func ParseGen(rev RevID) (int, error) {
	idx := strings.IndexByte(string(rev), '-')
	if idx <= 0 {
		return 0, fmt.Errorf("malformed revision id %q", rev)
	}
	gen, err := strconv.Atoi(string(rev)[:idx])
	if err != nil {
		return 0, fmt.Errorf("malformed generation in revision id %q: %v", rev, err)
	}
	if gen <= 0 {
		return 0, fmt.Errorf("non-positive generation in revision id %q", rev)
	}
	return gen, nil
}

// DeltaBlock is the unit of commit (spec §3, canonical form §6).
type DeltaBlock struct {
	ID      string
	Parents []string // sorted block IDs
	Info    any      // optional JSON, nil if absent
	Packs   []string // sorted pack IDs produced by this commit
	Changes map[ObjectID][]ObjectChange
}
