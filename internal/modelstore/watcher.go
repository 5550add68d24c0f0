package modelstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/logging"
)

// SwapCallback is called with a freshly loaded model. If the callback
// returns an error it is logged and the watcher keeps the previous model.
type SwapCallback func(model *anomaly.TrainedModel) error

// WatcherConfig holds configuration for the Watcher.
type WatcherConfig struct {
	// DebounceMillis coalesces the burst of events a multi-file artifact
	// write produces into a single reload. Default: 500ms.
	DebounceMillis int
}

// Watcher watches a model directory and swaps in new artifacts as they
// land. Artifact sets that fail to load are logged and skipped, so a bad
// training run never takes down the serving model.
type Watcher struct {
	store    *Store
	config   WatcherConfig
	callback SwapCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{} // signals when the fsnotify watcher is fully initialized
	logger   *logging.Logger
	mu       sync.Mutex

	// debounceTimer coalesces multiple file change events
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher over the store's directory.
func NewWatcher(store *Store, config WatcherConfig, callback SwapCallback) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}
	return &Watcher{
		store:    store,
		config:   config,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("modelstore.watcher"),
	}, nil
}

// Name implements lifecycle.Component.
func (w *Watcher) Name() string {
	return "model-watcher"
}

// Start loads whatever artifacts are already on disk, then begins
// watching for changes. A directory without a usable model is not an
// error: the service starts degraded and picks the model up later.
//
// Returns once the file watcher is initialized, so subsequent artifact
// writes cannot be missed.
func (w *Watcher) Start(ctx context.Context) error {
	model, err := w.store.Load()
	var artErr *ArtifactError
	switch {
	case err == nil:
		if err := w.callback(model); err != nil {
			return fmt.Errorf("initial model swap failed: %w", err)
		}
		w.logger.Info("loaded initial model %s from %s", model.Version, w.store.Dir())
	case errors.As(err, &artErr):
		w.logger.Warn("no usable model in %s yet, serving degraded: %v", w.store.Dir(), err)
	default:
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for model watcher to initialize")
	}
	return nil
}

// signalReady safely closes the ready channel exactly once.
func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := w.store.Dir()
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch %s: %v", dir, err)
		return
	}
	w.logger.Info("watching %s for model changes (debounce: %dms)", dir, w.config.DebounceMillis)

	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("context cancelled, stopping model watcher")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			relevant := event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
			if !relevant {
				continue
			}
			// The model directory itself may be replaced wholesale; the
			// watch follows the old inode and must be re-added.
			if event.Name == dir && event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(dir); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
				w.handleChange(ctx)
				continue
			}
			if isArtifact(event.Name) {
				w.handleChange(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}

func isArtifact(path string) bool {
	switch filepath.Base(path) {
	case NormalizerFile, ClassifierFile, MetricsFile:
		return true
	}
	return false
}

// handleChange debounces bursts of events into a single reload.
func (w *Watcher) handleChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() {
			w.reload(ctx)
		},
	)
}

// reload loads the artifact set and hands it to the callback. Failures
// keep the previous model in service.
func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	model, err := w.store.Load()
	if err != nil {
		w.logger.Warn("model reload failed (keeping current model): %v", err)
		return
	}
	if err := w.callback(model); err != nil {
		w.logger.Warn("model swap rejected (keeping current model): %v", err)
		return
	}
	w.logger.Info("hot-swapped model %s", model.Version)
}

// Stop implements lifecycle.Component.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for model watcher to stop: %w", ctx.Err())
	}
}
