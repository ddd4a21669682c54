// ABOUTME: Reloads a database when its snapshot file changes on disk
// ABOUTME: Built on fsnotify; the engine's own saves are ignored

package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// SnapshotWatcher reloads an engine from a snapshot file after external edits
type SnapshotWatcher struct {
	engine   *Engine
	filename string
	watcher  *fsnotify.Watcher
}

// NewSnapshotWatcher starts watching filename's directory.
// Watching the directory survives editors and Save replacing the file by rename.
func NewSnapshotWatcher(e *Engine, filename string) (*SnapshotWatcher, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &SnapshotWatcher{engine: e, filename: abs, watcher: w}, nil
}

// Run reloads on every change until ctx is done
func (sw *SnapshotWatcher) Run(ctx context.Context) error {
	defer sw.watcher.Close()
	log := sw.engine.log.Component("snapshot-watcher")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != sw.filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fi, err := os.Stat(sw.filename)
			if err != nil || sw.engine.savedByUs(fi) {
				continue
			}
			// A half-written file fails to parse; the next event retries
			if err := sw.engine.Load(sw.filename); err != nil {
				log.Debug("Snapshot reload skipped").Err(err).Send()
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Snapshot watcher error").Err(err).Send()
		}
	}
}

// WatchSnapshot reloads e from filename whenever it changes, until ctx is done
func (e *Engine) WatchSnapshot(ctx context.Context, filename string) error {
	sw, err := NewSnapshotWatcher(e, filename)
	if err != nil {
		return err
	}
	return sw.Run(ctx)
}
