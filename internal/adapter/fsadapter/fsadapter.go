// Package fsadapter implements the filesystem adapter.Adapter layout
// spec §6 describes explicitly: two-hex-character prefix subdirectories
// under "delta/" and "pack/" for directory scaling. Locking follows the
// teacher's internal/daemon/registry.go pattern of a gofrs/flock advisory
// lock guarding a read-modify-write sequence against other processes
// sharing the same directory; a companion fsnotify watch lets a caller
// learn about blocks written by another process without polling.
package fsadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/meldahq/melda/internal/adapter"
	"github.com/meldahq/melda/internal/types"
)

// manifestVersion is the schema version of manifest.toml. Bump it if the
// on-disk layout ever changes incompatibly.
const manifestVersion = 1

// manifest is a small sidecar describing the adapter's own state; it is
// not part of the core protocol (nothing in the engine reads it back to
// reconstruct document state) but gives a human or another tool a cheap
// summary without walking the directory tree.
type manifest struct {
	SchemaVersion int `toml:"schema_version"`
	BlockCount    int `toml:"block_count"`
	PackCount     int `toml:"pack_count"`
}

// Adapter is a filesystem-backed adapter.Adapter rooted at a directory.
type Adapter struct {
	root string
	lock *flock.Flock

	mu sync.Mutex
}

var _ adapter.Adapter = (*Adapter)(nil)

// Open creates (if needed) the adapter's directory layout at root and
// returns an Adapter bound to it.
func Open(root string) (*Adapter, error) {
	for _, sub := range []string{adapter.DeltaPrefix, adapter.PackPrefix} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(sub)), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", types.ErrAdapterFailure, sub, err)
		}
	}
	a := &Adapter{
		root: root,
		lock: flock.New(filepath.Join(root, ".melda.lock")),
	}
	if _, err := os.Stat(a.manifestPath()); os.IsNotExist(err) {
		if werr := a.writeManifest(manifest{SchemaVersion: manifestVersion}); werr != nil {
			return nil, werr
		}
	}
	return a, nil
}

func (a *Adapter) manifestPath() string { return filepath.Join(a.root, "manifest.toml") }

func (a *Adapter) readManifest() (manifest, error) {
	var m manifest
	f, err := os.Open(a.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return manifest{SchemaVersion: manifestVersion}, nil
		}
		return m, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	defer f.Close()
	if _, err := toml.NewDecoder(f).Decode(&m); err != nil {
		return m, fmt.Errorf("%w: decoding manifest: %v", types.ErrAdapterFailure, err)
	}
	return m, nil
}

func (a *Adapter) writeManifest(m manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("%w: encoding manifest: %v", types.ErrAdapterFailure, err)
	}
	return writeFileAtomic(a.manifestPath(), buf.Bytes())
}

// keyPath maps an adapter key to an on-disk path, sharding delta/pack
// keys by the first two hex characters of the ID as spec §6 mandates.
func (a *Adapter) keyPath(key string) (string, error) {
	switch {
	case strings.HasPrefix(key, adapter.DeltaPrefix):
		id := strings.TrimPrefix(key, adapter.DeltaPrefix)
		return a.shardedPath("delta", id, ".delta")
	case strings.HasPrefix(key, adapter.PackPrefix):
		id := strings.TrimPrefix(key, adapter.PackPrefix)
		return a.shardedPath("pack", id, ".pack")
	default:
		return "", fmt.Errorf("%w: unrecognized key namespace %q", types.ErrAdapterFailure, key)
	}
}

func (a *Adapter) shardedPath(namespace, id, ext string) (string, error) {
	if len(id) < 2 {
		return "", fmt.Errorf("%w: id %q too short to shard", types.ErrAdapterFailure, id)
	}
	dir := filepath.Join(a.root, namespace, id[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", types.ErrAdapterFailure, dir, err)
	}
	return filepath.Join(dir, id+ext), nil
}

func (a *Adapter) WriteObject(_ context.Context, key string, data []byte) error {
	path, err := a.keyPath(key)
	if err != nil {
		return err
	}
	if err := a.lock.Lock(); err != nil {
		return fmt.Errorf("%w: acquiring lock: %v", types.ErrAdapterFailure, err)
	}
	defer a.lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil // idempotent: already written
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	m, err := a.readManifest()
	if err != nil {
		return err
	}
	if strings.HasPrefix(key, adapter.DeltaPrefix) {
		m.BlockCount++
	} else {
		m.PackCount++
	}
	return a.writeManifest(m)
}

func (a *Adapter) ReadObject(_ context.Context, key string, offset, length int64) ([]byte, error) {
	path, err := a.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object %q not found", types.ErrAdapterFailure, key)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	defer f.Close()

	if offset == 0 && length == 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
		}
		return data, nil
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	if length == 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
		}
		if int64(len(data)) < offset {
			return []byte{}, nil
		}
		return data[offset:], nil
	}
	buf := make([]byte, length)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	return buf[:n], nil
}

func (a *Adapter) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var namespace, ext string
	switch {
	case strings.HasPrefix(adapter.DeltaPrefix, prefix) || strings.HasPrefix(prefix, adapter.DeltaPrefix):
		namespace, ext = "delta", ".delta"
	case strings.HasPrefix(adapter.PackPrefix, prefix) || strings.HasPrefix(prefix, adapter.PackPrefix):
		namespace, ext = "pack", ".pack"
	default:
		return nil, fmt.Errorf("%w: unrecognized key prefix %q", types.ErrAdapterFailure, prefix)
	}

	base := filepath.Join(a.root, namespace)
	var out []string
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ext)
		out = append(out, namespace+"/"+id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", types.ErrAdapterFailure, base, err)
	}
	return out, nil
}

func (a *Adapter) HasObject(_ context.Context, key string) (bool, error) {
	path, err := a.keyPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
}

// Watch starts an fsnotify watch over the adapter's delta/ and pack/
// trees and returns a channel that receives a value on any create or
// write event in the directories that exist when Watch is called,
// including writes made through this Adapter and the temporary files of
// atomic writes. Shard directories created after Watch starts are not
// themselves watched: their creation raises an event, files later
// written inside them do not. The caller typically follows a receive
// with refresh().
// Closing ctx stops the watch and closes the channel.
func (a *Adapter) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: starting watch: %v", types.ErrAdapterFailure, err)
	}
	for _, namespace := range []string{"delta", "pack"} {
		root := filepath.Join(a.root, namespace)
		if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		}); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("%w: watching %s: %v", types.ErrAdapterFailure, root, err)
		}
	}

	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", types.ErrAdapterFailure, err)
	}
	return nil
}
