package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/logger"
)

// DefaultDebounce is how long the watcher waits after the last filesystem
// event before triggering a reload, coalescing editor save bursts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store whenever definition documents under a corpus
// directory change. A failed reload logs its violations and keeps the
// previous catalog serving; the watcher itself keeps running.
type Watcher struct {
	store    *Store
	dir      string
	debounce time.Duration
}

// NewWatcher creates a watcher for the corpus directory. A non-positive
// debounce falls back to DefaultDebounce.
func NewWatcher(store *Store, dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{store: store, dir: dir, debounce: debounce}
}

// Run watches until the context is cancelled. It returns the context error
// on cancellation, or a watcher setup failure.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating corpus watcher")
	}
	defer watcher.Close()

	if err := addRecursive(watcher, w.dir); err != nil {
		return err
	}

	log := logger.G(ctx).WithField("dir", w.dir)
	log.WithField("debounce", w.debounce.String()).Info("watching corpus for changes")

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-pending:
			if _, err := w.store.Reload(ctx, os.DirFS(w.dir)); err != nil {
				log.WithError(err).Error("corpus reload failed; previous catalog stays active")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("corpus watcher error")
		}
	}
}

// relevant filters events down to definition documents and directories.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if strings.HasSuffix(event.Name, ".md") {
		return true
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.IsDir()
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != root && (strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_")) {
			return filepath.SkipDir
		}
		return errors.Wrapf(watcher.Add(path), "watching %s", path)
	})
}
