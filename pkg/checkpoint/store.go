// Package checkpoint persists the last emitted position of every partition.
//
// A checkpoint is one opaque scalar per partition: the raw value of the
// tracked column from the last emitted row. Slots are keyed "<job>/<ordinal>".
package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/json"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

// Key returns the slot key of a partition.
func Key(job string, ordinal int) string {
	return job + "/" + strconv.Itoa(ordinal)
}

// Store hands out checkpoint slots.
type Store interface {
	Slot(job string, ordinal int) core.CheckpointSlot
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Slot(job string, ordinal int) core.CheckpointSlot {
	return &slot{key: Key(job, ordinal), load: m.load, store: m.store}
}

// Set seeds the checkpoint of a partition.
func (m *MemoryStore) Set(job string, ordinal int, raw string) {
	_ = m.store(Key(job, ordinal), raw)
}

// Get returns the checkpoint of a partition.
func (m *MemoryStore) Get(job string, ordinal int) (string, bool) {
	raw, ok, _ := m.load(Key(job, ordinal))
	return raw, ok
}

// Snapshot returns a copy of every slot.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) load(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.values[key]
	return raw, ok, nil
}

func (m *MemoryStore) store(key, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

// FileStore is a MemoryStore persisted as a JSON object. Stores only touch
// memory; Flush writes the file atomically and syncs it before the rename.
type FileStore struct {
	*MemoryStore
	path   string
	logger *zap.Logger

	version atomic.Uint64 // bumped by every store

	flushMu sync.Mutex
	written uint64 // version of the file on disk
}

// OpenFileStore loads path if it exists.
func OpenFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		logger:      logger.With(zap.String("component", "checkpoint_store")),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeFile, "failed to read checkpoint file").
			WithDetail("path", path)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.values); err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "corrupt checkpoint file").
				WithDetail("path", path)
		}
	}
	if fs.values == nil {
		fs.values = make(map[string]string)
	}

	fs.logger.Info("checkpoints loaded", zap.String("path", path), zap.Strings("slots", fs.keys()))
	return fs, nil
}

func (f *FileStore) Slot(job string, ordinal int) core.CheckpointSlot {
	return &slot{key: Key(job, ordinal), load: f.load, store: f.store}
}

func (f *FileStore) store(key, raw string) error {
	if err := f.MemoryStore.store(key, raw); err != nil {
		return err
	}
	f.version.Add(1)
	return nil
}

// snapshot is the content of the store at one version.
type snapshot struct {
	version uint64
	values  map[string]string
}

// capture reads the version before the values, so a store racing with it
// can only make the snapshot newer than its version, never older.
func (f *FileStore) capture() snapshot {
	v := f.version.Load()
	return snapshot{version: v, values: f.Snapshot()}
}

// Flush writes pending checkpoints. It is a no-op when nothing changed.
func (f *FileStore) Flush() error {
	return f.write(f.capture())
}

func (f *FileStore) write(snap snapshot) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()
	if snap.version <= f.written {
		return nil
	}

	data, err := json.MarshalIndent(snap.values, "", "  ")
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to encode checkpoints")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeFile, "failed to write checkpoint file").
			WithDetail("path", f.path)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeFile, "failed to write checkpoint file").
			WithDetail("path", f.path)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeFile, "failed to replace checkpoint file").
			WithDetail("path", f.path)
	}

	f.written = snap.version
	return nil
}

// AutoFlush flushes every interval until ctx is done, then flushes once more.
// before runs ahead of every flush, typically to flush the row sink. The
// checkpoints written are the ones captured before it started, so a position
// stored while before runs waits for the next flush. When before fails
// nothing is written. before may be nil.
func (f *FileStore) AutoFlush(ctx context.Context, interval time.Duration, before func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := f.flushAfter(before); err != nil {
				f.logger.Error("final checkpoint flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := f.flushAfter(before); err != nil {
				f.logger.Warn("checkpoint flush failed", zap.Error(err))
			}
		}
	}
}

func (f *FileStore) flushAfter(before func() error) error {
	snap := f.capture()
	if before != nil {
		if err := before(); err != nil {
			return err
		}
	}
	return f.write(snap)
}

func (f *FileStore) keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type slot struct {
	key   string
	load  func(key string) (string, bool, error)
	store func(key, raw string) error
}

// Load and Store never block, so they ignore cancellation: the position of a
// row already emitted must survive a cancelled job.
func (s *slot) Load(context.Context) (string, bool, error) {
	return s.load(s.key)
}

func (s *slot) Store(_ context.Context, raw string) error {
	return s.store(s.key, raw)
}
