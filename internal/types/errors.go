package types

import "errors"

// Error kinds from spec §7. Each is a sentinel so callers can use
// errors.Is against a wrapped error returned from the engine.
var (
	// ErrAdapterFailure wraps any I/O or transport error surfaced by the
	// storage adapter.
	ErrAdapterFailure = errors.New("melda: adapter failure")

	// ErrCorruptBlock means a delta block's canonical form or hash did
	// not validate; fatal to the load, not fatal to the replica.
	ErrCorruptBlock = errors.New("melda: corrupt delta block")

	// ErrCorruptPack means a data pack's body or index did not validate.
	ErrCorruptPack = errors.New("melda: corrupt data pack")

	// ErrUnknownObject means a lookup referenced an object ID the
	// replica has never seen.
	ErrUnknownObject = errors.New("melda: unknown object")

	// ErrUnknownRevision means a lookup referenced a revision ID absent
	// from the object's revision tree.
	ErrUnknownRevision = errors.New("melda: unknown revision")

	// ErrCyclicReference is returned by read() when materialization
	// detects a flatten-reference cycle.
	ErrCyclicReference = errors.New("melda: cyclic reference detected during materialization")

	// ErrNotAnObject means the top-level staged value was not a JSON
	// object.
	ErrNotAnObject = errors.New("melda: staged value is not a JSON object")

	// ErrHashInputInvalid means a JSON value could not be canonicalized
	// for hashing (e.g. a non-finite number).
	ErrHashInputInvalid = errors.New("melda: value cannot be canonicalized for hashing")
)
