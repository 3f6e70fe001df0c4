package proxyconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches a single config file for changes and invokes onReload with
// the file path after a debounce interval. It stands in for the external
// config store pushing new snapshots (SPEC_FULL.md §4.11); it does not
// itself decide whether a reload succeeds, it only triggers one.
type Watcher struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a Watcher for the config file at path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		watcher:  fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks, invoking onReload(path) (debounced) whenever the config file
// is written. Returns when ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context, onReload func(path string)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.logger.Info("config file changed, reloading", zap.String("path", w.path))
			onReload(w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}
