// Package hashing implements Melda's Hasher & Identifier Service (spec
// §4.1): stable content hashes of JSON values and revision tuples, and
// the construction of revision identifiers. It follows the teacher's
// idiom of reaching for crypto/sha256 directly over canonical byte forms
// rather than a generic struct-hashing library, matching
// internal/storage/sqlite/collision.go and internal/autoimport/autoimport.go
// in the retrieval pack.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/types"
)

// HashValue canonicalizes v and returns its hex-encoded SHA-256 digest.
// Returns types.ErrHashInputInvalid if v cannot be canonicalized.
func HashValue(v any) (string, error) {
	canon, err := jsonvalue.Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrHashInputInvalid, err)
	}
	return hashBytes(canon), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RevID computes the revision identifier "<gen>-<hex-hash>" for a
// revision with the given generation, value hash (empty for a deletion),
// and parent revision IDs. Origin revisions (parents == nil/empty) hash
// the value hash alone; non-origin revisions hash the tuple
// (valueHash, sorted(parents)).
func RevID(gen int, valueHash string, parents []types.RevID) types.RevID {
	sorted := types.SortedParents(parents)
	var body string
	if len(sorted) == 0 {
		body = valueHash
	} else {
		parts := make([]string, len(sorted))
		for i, p := range sorted {
			parts[i] = string(p)
		}
		body = valueHash + "\x00" + strings.Join(parts, "\x00")
	}
	hash := hashBytes([]byte(body))
	return types.RevID(fmt.Sprintf("%d-%s", gen, hash))
}

// NextGen returns 1 + the maximum gen among parents' gens, or 1 if there
// are no parents.
func NextGen(parentGens []int) int {
	max := 0
	for _, g := range parentGens {
		if g > max {
			max = g
		}
	}
	return max + 1
}

// BlockID hashes a delta block's canonical serialization (see
// internal/deltablock for the canonical byte form).
func BlockID(canonicalBody []byte) string {
	return hashBytes(canonicalBody)
}

// PackID hashes a data pack's canonical body (see internal/pack).
func PackID(body []byte) string {
	return hashBytes(body)
}
