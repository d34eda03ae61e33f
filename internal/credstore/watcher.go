package credstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the store when the credential file is modified outside
// the running process, e.g. by a second invocation of the tool or a manual
// edit. The parent directory is watched rather than the file itself so
// atomic rename replacement still produces events.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	onReload func()
}

// NewWatcher creates a watcher for the given store. onReload, if not nil,
// is invoked after every successful reload.
func NewWatcher(store *Store, onReload func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    store,
		watcher:  fsWatcher,
		onReload: onReload,
	}, nil
}

// Start begins watching. It returns after registering the watch; event
// processing happens on a background goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch credential directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching credential directory: %s", dir)

	go w.processEvents(ctx)
	return nil
}

// Stop releases the underlying file system watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	// Editors and atomic renames fire bursts of events; a short debounce
	// collapses them into one reload.
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(100*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("credential watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Load(); err != nil {
		log.Errorf("failed to reload credential file: %v", err)
		return
	}
	log.Debug("credential file reloaded after external change")
	if w.onReload != nil {
		w.onReload()
	}
}
