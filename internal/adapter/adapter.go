// Package adapter defines the narrow storage contract the engine
// consumes (spec §6). Concrete adapters (filesystem, SQLite, HTTP/Solid
// Pod, in-memory) are external collaborators per spec §1; this package
// only fixes the interface plus the two reserved key namespaces,
// "delta/<block_id>" and "pack/<pack_id>".
package adapter

import "context"

const (
	// DeltaPrefix namespaces delta block keys.
	DeltaPrefix = "delta/"
	// PackPrefix namespaces data pack keys.
	PackPrefix = "pack/"
)

// Adapter is the capability set the engine requires of a storage backend.
// Implementations must serialize their own operations: the engine treats
// the adapter as the single owned external resource and does not
// internally suspend or retry (spec §5).
type Adapter interface {
	// WriteObject idempotently stores data under key.
	WriteObject(ctx context.Context, key string, data []byte) error

	// ReadObject reads all of key's bytes. If length > 0, at most length
	// bytes are returned starting at offset; a length of 0 means "read to
	// the end of the object".
	ReadObject(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// ListObjects enumerates every key with the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// HasObject reports whether key is present.
	HasObject(ctx context.Context, key string) (bool, error)
}

// DeltaKey builds the adapter key for a delta block ID.
func DeltaKey(blockID string) string { return DeltaPrefix + blockID }

// PackKey builds the adapter key for a pack ID.
func PackKey(packID string) string { return PackPrefix + packID }
