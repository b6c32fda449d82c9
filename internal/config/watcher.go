package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the option store when its properties file is edited on
// disk. Saves performed by the store itself also trigger a reload, which is
// harmless: Reload replaces the raw map with what was just written.
type Watcher struct {
	store    *Store
	debounce time.Duration
	onReload func()
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the store's properties file. onReload
// may be nil.
func NewWatcher(store *Store, logger *slog.Logger, onReload func()) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:    store,
		debounce: 1500 * time.Millisecond,
		onReload: onReload,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins watching. The properties file must exist; callers Save the
// store once before starting the watcher.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(w.store.path); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Info("Properties watcher started", "path", w.store.path)
	go w.watch()
	return nil
}

// Stop stops watching and releases the inotify handle.
func (w *Watcher) Stop() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) watch() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Writes are the common case; creates happen when an editor
			// replaces the file.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			if err := w.store.Reload(); err != nil {
				w.logger.Warn("Failed to reload properties", "error", err)
				continue
			}
			w.logger.Info("Properties reloaded", "path", w.store.path)
			if w.onReload != nil {
				w.onReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Properties watcher error", "error", err)
		}
	}
}
