package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/testutil"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s0 := m.Slot("orders", 0)
	_, ok, err := s0.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s0.Store(ctx, "9"))
	raw, ok, err := m.Slot("orders", 0).Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9", raw)

	_, ok, _ = m.Slot("orders", 1).Load(ctx)
	assert.False(t, ok)
	_, ok, _ = m.Slot("invoices", 0).Load(ctx)
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"orders/0": "9"}, m.Snapshot())
}

func TestStoreSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryStore()
	require.NoError(t, m.Slot("orders", 0).Store(ctx, "12"))
	raw, ok := m.Get("orders", 0)
	assert.True(t, ok)
	assert.Equal(t, "12", raw)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.json")

	fs, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)
	require.NoError(t, fs.Flush())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean store must not create the file")

	require.NoError(t, fs.Slot("orders", 0).Store(ctx, "9"))
	require.NoError(t, fs.Slot("orders", 1).Store(ctx, "2024-03-01T10:20:30Z"))
	require.NoError(t, fs.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders/0":"9","orders/1":"2024-03-01T10:20:30Z"}`, string(data))

	reopened, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)
	raw, ok, err := reopened.Slot("orders", 1).Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-03-01T10:20:30Z", raw)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := OpenFileStore(path, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeData))
}

func TestAutoFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	fs, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fs.AutoFlush(ctx, time.Hour, nil)
		close(done)
	}()

	require.NoError(t, fs.Slot("orders", 0).Store(ctx, "5"))
	cancel()
	<-done

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders/0":"5"}`, string(data))
}

func TestAutoFlushHoldsCheckpointsWhenSinkFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	fs, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fs.AutoFlush(ctx, time.Hour, func() error { return errors.New("disk full") })
		close(done)
	}()

	require.NoError(t, fs.Slot("orders", 0).Store(ctx, "5"))
	cancel()
	<-done

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAutoFlushWritesPositionsCapturedBeforeSinkFlush(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	fs, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)

	slot := fs.Slot("orders", 0)
	require.NoError(t, slot.Store(ctx, "1"))

	durableRows := 0
	flushSink := func() error {
		durableRows = 1
		// row 2 is emitted while the sink flushes and is still queued
		return slot.Store(ctx, "2")
	}

	stopped, cancel := context.WithCancel(ctx)
	cancel()
	fs.AutoFlush(stopped, time.Hour, flushSink)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, durableRows)
	assert.JSONEq(t, `{"orders/0":"1"}`, string(data))

	require.NoError(t, fs.Flush())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders/0":"2"}`, string(data))
}

func TestFlushSkipsUnchangedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	fs, err := OpenFileStore(path, testutil.TestLogger(t))
	require.NoError(t, err)

	require.NoError(t, fs.Slot("orders", 0).Store(ctx, "3"))
	require.NoError(t, fs.Flush())
	require.NoError(t, os.Remove(path))

	require.NoError(t, fs.Flush())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "unchanged store must not rewrite the file")
}
