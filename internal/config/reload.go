package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the window within which rapid successive file writes
// collapse into a single reload.
const DefaultDebounce = time.Second

// ReloadFunc is notified after a successful validation and atomic swap.
type ReloadFunc func(old, new *Document)

// ErrorFunc is notified when a reload fails; the previous document stays
// active.
type ErrorFunc func(err error)

// Reloader watches a strategy document for changes and atomically swaps the
// active snapshot after validation. Readers call Active on every decision
// cycle and always see a complete document, never a partial update.
type Reloader struct {
	logger   *zap.Logger
	path     string
	debounce time.Duration

	active atomic.Pointer[Document]

	mu          sync.Mutex
	subscribers []ReloadFunc
	errorHooks  []ErrorFunc
}

// NewReloader loads the document at path and returns a reloader holding it
// as the active snapshot. An invalid initial document is fatal.
func NewReloader(logger *zap.Logger, path string, debounce time.Duration) (*Reloader, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	doc, err := Load(logger, path)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	r := &Reloader{
		logger:   logger,
		path:     path,
		debounce: debounce,
	}
	r.active.Store(doc)
	return r, nil
}

// Active returns the current document snapshot.
func (r *Reloader) Active() *Document {
	return r.active.Load()
}

// Subscribe registers a callback invoked after every successful swap.
func (r *Reloader) Subscribe(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// OnError registers a callback invoked when a reload fails.
func (r *Reloader) OnError(fn ErrorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHooks = append(r.errorHooks, fn)
}

// Watch blocks until ctx is done, reloading the document whenever the file
// changes. Reload failures never propagate to callers of Active.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename
	// and the inode-level watch would be lost.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	r.logger.Info("Watching strategy document",
		zap.String("path", r.path),
		zap.Duration("debounce", r.debounce),
	)

	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Watcher error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			r.reload()
		}
	}
}

// reload loads and validates the document and swaps it in on success.
func (r *Reloader) reload() {
	doc, err := Load(r.logger, r.path)
	if err != nil {
		r.logger.Error("Reload failed, keeping previous document", zap.Error(err))
		r.mu.Lock()
		hooks := append([]ErrorFunc(nil), r.errorHooks...)
		r.mu.Unlock()
		for _, hook := range hooks {
			hook(err)
		}
		return
	}

	old := r.active.Swap(doc)

	r.logger.Info("Strategy document reloaded",
		zap.String("version", doc.Version),
		zap.Int("regimes", len(doc.Regimes)),
		zap.Int("routingRules", len(doc.RoutingRules)),
	)

	r.mu.Lock()
	subs := append([]ReloadFunc(nil), r.subscribers...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(old, doc)
	}
}
