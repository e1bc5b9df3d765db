package photos

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benmorin/photosync/internal/sync"
)

const (
	// tickInterval is how often settled files are flushed to the handler.
	tickInterval = 500 * time.Millisecond
	// settleDelay is how long a file must be quiet before it counts as
	// fully written. Phone imports copy large videos in bursts.
	settleDelay = 2 * time.Second
)

// Batch handles a group of photos that finished arriving.
type Batch func(ctx context.Context, photos []sync.Photo)

// Watcher monitors a photo directory and hands newly arrived files to the
// batch handler once their writes have settled.
type Watcher struct {
	dir     string
	handler Batch
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher over dir. The handler runs on the watch
// goroutine; a slow handler delays later batches but loses nothing.
func NewWatcher(dir string, handler Batch, logger *slog.Logger) *Watcher {
	return &Watcher{dir: dir, handler: handler, logger: logger}
}

// Watch blocks until the context is cancelled, watching the directory
// recursively. Rapid writes to the same file are debounced: the file is
// reported once, after it has been quiet for the settle delay.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("photo watcher started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if hidden(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				// New directories need their own watch before files land
				// in them.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.addRecursive(event.Name); err != nil {
							w.logger.Warn("watching new directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
						}

						continue
					}
				}

				if IsPhoto(event.Name) {
					pending[event.Name] = time.Now()
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			batch := w.collectSettled(pending)
			if len(batch) > 0 {
				w.handler(ctx, batch)
			}
		}
	}
}

// collectSettled removes files quiet for the settle delay from pending
// and returns them as photos, skipping any that vanished in the meantime.
func (w *Watcher) collectSettled(pending map[string]time.Time) []sync.Photo {
	now := time.Now()

	var batch []sync.Photo

	for path, last := range pending {
		if now.Sub(last) < settleDelay {
			continue
		}

		delete(pending, path)

		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("stat settled file", slog.String("path", path), slog.String("error", err.Error()))
			}

			continue
		}

		batch = append(batch, sync.Photo{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      info.Size(),
			DateTaken: info.ModTime().UTC(),
		})
	}

	return batch
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if hidden(path) && path != dir {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}
