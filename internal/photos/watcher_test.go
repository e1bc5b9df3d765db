package photos

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmorin/photosync/internal/sync"
)

func testWatcher(t *testing.T, dir string, handler Batch) *Watcher {
	t.Helper()
	return NewWatcher(dir, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCollectSettled(t *testing.T) {
	dir := t.TempDir()
	settled := writeFile(t, dir, "settled.jpg", []byte("done writing"))
	busy := writeFile(t, dir, "busy.jpg", []byte("still writing"))
	gone := filepath.Join(dir, "gone.jpg")

	w := testWatcher(t, dir, nil)

	pending := map[string]time.Time{
		settled: time.Now().Add(-2 * settleDelay),
		busy:    time.Now(),
		gone:    time.Now().Add(-2 * settleDelay),
	}

	batch := w.collectSettled(pending)
	require.Len(t, batch, 1)
	assert.Equal(t, "settled.jpg", batch[0].Filename)
	assert.Equal(t, int64(len("done writing")), batch[0].Size)

	// The settled and vanished entries are consumed; the busy one stays.
	assert.Len(t, pending, 1)
	assert.Contains(t, pending, busy)
}

func TestWatch_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	w := testWatcher(t, t.TempDir(), func(context.Context, []sync.Photo) {})

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher a moment to start before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	w := testWatcher(t, filepath.Join(t.TempDir(), "nope"), nil)

	err := w.Watch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
