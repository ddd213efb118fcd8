// Package pack implements the Data Pack Store (spec §4.2, canonical
// form §6): an append-only, content-addressed blob of JSON values with a
// trailing index for O(1) lookup by value hash.
package pack

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meldahq/melda/internal/adapter"
	"github.com/meldahq/melda/internal/hashing"
	"github.com/meldahq/melda/internal/jsonvalue"
	"github.com/meldahq/melda/internal/types"
)

// location pinpoints one value inside one sealed pack.
type location struct {
	packID string
	offset int64
	length int64
}

// Store is the Data Pack Store for one replica: it accumulates values in
// an open buffer, seals them into content-addressed packs on demand, and
// resolves values by hash on read, consulting a bounded LRU first.
type Store struct {
	a adapter.Adapter

	mu           sync.Mutex
	pendingOrder []string // value hashes, in insertion order, in the open buffer
	pendingBody  map[string][]byte

	index map[string]location // value hash -> location, across all known packs
	seen  map[string]struct{} // packs whose index has already been merged in

	cache *valueCache
}

// New returns a pack Store backed by a, with a value LRU of the given
// capacity (spec §5 default ~1024; 0 uses that default).
func New(a adapter.Adapter, cacheCapacity int) *Store {
	if cacheCapacity <= 0 {
		cacheCapacity = 1024
	}
	return &Store{
		a:           a,
		pendingBody: make(map[string][]byte),
		index:       make(map[string]location),
		seen:        make(map[string]struct{}),
		cache:       newValueCache(cacheCapacity),
	}
}

// Put stores value (idempotently: a value whose content hash is already
// known locally or in any loaded pack's index returns the existing hash
// without duplicating storage) into the open pack buffer, pending the
// next Seal.
func (s *Store) Put(value any) (string, error) {
	hash, err := hashing.HashValue(value)
	if err != nil {
		return "", err
	}
	canon, err := jsonvalue.Canonicalize(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrHashInputInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingBody[hash]; ok {
		return hash, nil
	}
	if _, ok := s.index[hash]; ok {
		return hash, nil
	}
	s.pendingBody[hash] = canon
	s.pendingOrder = append(s.pendingOrder, hash)
	s.cache.put(hash, value)
	return hash, nil
}

// HasPending reports whether anything has been appended since the last
// Seal.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingOrder) > 0
}

// PendingCount returns how many distinct values are buffered since the
// last Seal, for callers that opportunistically seal once a threshold
// is crossed.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingOrder)
}

// Seal finalizes the open pack buffer into a canonical pack body (spec
// §6), writes it through the adapter, and returns its pack ID. Returns
// ok=false if nothing was appended since the last Seal.
func (s *Store) Seal(ctx context.Context) (packID string, ok bool, err error) {
	s.mu.Lock()
	if len(s.pendingOrder) == 0 {
		s.mu.Unlock()
		return "", false, nil
	}
	order := s.pendingOrder
	body := s.pendingBody
	s.mu.Unlock()

	buf, locs, err := encodePack(order, body)
	if err != nil {
		return "", false, err
	}
	id := hashing.PackID(buf)
	if err := s.a.WriteObject(ctx, adapter.PackKey(id), buf); err != nil {
		return "", false, fmt.Errorf("%w: writing pack %s: %v", types.ErrAdapterFailure, id, err)
	}

	s.mu.Lock()
	for hash, loc := range locs {
		loc.packID = id
		s.index[hash] = loc
	}
	s.seen[id] = struct{}{}
	s.pendingOrder = nil
	s.pendingBody = make(map[string][]byte)
	s.mu.Unlock()

	return id, true, nil
}

// encodePack lays out length-prefixed canonical JSON values in order,
// followed by a JSON index (value hash -> [offset,length]), followed by
// an 8-byte big-endian trailer giving the index's starting offset.
func encodePack(order []string, body map[string][]byte) ([]byte, map[string]location, error) {
	var buf []byte
	locs := make(map[string]location, len(order))
	for _, hash := range order {
		v := body[hash]
		offset := int64(len(buf))
		var lenPrefix [8]byte
		binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(v)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, v...)
		locs[hash] = location{offset: offset + 8, length: int64(len(v))}
	}

	indexOffset := uint64(len(buf))
	indexTable := make(map[string][2]int64, len(locs))
	for hash, loc := range locs {
		indexTable[hash] = [2]int64{loc.offset, loc.length}
	}
	indexJSON, err := json.Marshal(indexTable)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encoding pack index: %v", types.ErrCorruptPack, err)
	}
	buf = append(buf, indexJSON...)

	var trailer [8]byte
	binary.BigEndian.PutUint64(trailer[:], indexOffset)
	buf = append(buf, trailer[:]...)

	return buf, locs, nil
}

// decodePackIndex parses the trailer and index block of a sealed pack
// body without needing the caller to track offsets separately.
func decodePackIndex(buf []byte) (map[string][2]int64, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: pack body too short", types.ErrCorruptPack)
	}
	trailer := buf[len(buf)-8:]
	indexOffset := binary.BigEndian.Uint64(trailer)
	if indexOffset > uint64(len(buf)-8) {
		return nil, fmt.Errorf("%w: index offset out of range", types.ErrCorruptPack)
	}
	indexJSON := buf[indexOffset : len(buf)-8]
	var indexTable map[string][2]int64
	if err := json.Unmarshal(indexJSON, &indexTable); err != nil {
		return nil, fmt.Errorf("%w: decoding pack index: %v", types.ErrCorruptPack, err)
	}
	return indexTable, nil
}

// loadPackIndex demand-loads a pack through the adapter and merges its
// index into s.index. Safe to call more than once for the same pack.
func (s *Store) loadPackIndex(ctx context.Context, packID string) error {
	s.mu.Lock()
	if _, ok := s.seen[packID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	body, err := s.a.ReadObject(ctx, adapter.PackKey(packID), 0, 0)
	if err != nil {
		return fmt.Errorf("%w: reading pack %s: %v", types.ErrAdapterFailure, packID, err)
	}
	table, err := decodePackIndex(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, pair := range table {
		if _, ok := s.index[hash]; !ok {
			s.index[hash] = location{packID: packID, offset: pair[0], length: pair[1]}
		}
	}
	s.seen[packID] = struct{}{}
	return nil
}

// IndexKnownPacks scans the adapter for every pack ID and ensures each
// one's index has been merged in, so Get can resolve any value hash the
// replica has ever seen. Called by refresh()/meld() after new packs
// arrive.
func (s *Store) IndexKnownPacks(ctx context.Context) error {
	keys, err := s.a.ListObjects(ctx, adapter.PackPrefix)
	if err != nil {
		return fmt.Errorf("%w: listing packs: %v", types.ErrAdapterFailure, err)
	}
	for _, key := range keys {
		id := key[len(adapter.PackPrefix):]
		if err := s.loadPackIndex(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a value by its content hash, consulting the LRU cache
// first, then the merged pack index, demand-loading the owning pack's
// body through the adapter if the value itself (not just its index) is
// needed.
func (s *Store) Get(ctx context.Context, valueHash string) (any, error) {
	if v, ok := s.cache.get(valueHash); ok {
		return v, nil
	}

	s.mu.Lock()
	if raw, ok := s.pendingBody[valueHash]; ok {
		s.mu.Unlock()
		return decodeValue(raw)
	}
	loc, ok := s.index[valueHash]
	s.mu.Unlock()
	if !ok {
		if err := s.IndexKnownPacks(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		loc, ok = s.index[valueHash]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: value %s", types.ErrUnknownObject, valueHash)
		}
	}

	raw, err := s.a.ReadObject(ctx, adapter.PackKey(loc.packID), loc.offset, loc.length)
	if err != nil {
		return nil, fmt.Errorf("%w: reading value %s from pack %s: %v", types.ErrAdapterFailure, valueHash, loc.packID, err)
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	s.cache.put(valueHash, v)
	return v, nil
}

// decodeValue parses a stored value's canonical bytes back into the
// engine's dynamic representation. jsonvalue.Decode (gjson-backed) keeps
// keys in the order they appear in raw; since Put stores canonical,
// key-sorted bytes, a value read back here has its keys in lexicographic
// order.
func decodeValue(raw []byte) (any, error) {
	v, err := jsonvalue.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding value: %v", types.ErrCorruptPack, err)
	}
	return v, nil
}
