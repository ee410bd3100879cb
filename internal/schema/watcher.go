package schema

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a Store from the built-in defaults plus a schema directory
// whenever a schema file in that directory changes.
type Watcher struct {
	dir      string
	store    *Store
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration
	onReload func(error)

	pendingMu sync.Mutex
	pending   bool

	started bool
	done    chan struct{}
}

func NewWatcher(dir string, store *Store, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce == 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		store:    store,
		watcher:  fsw,
		logger:   logger,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers fn to be told the result of every change-triggered
// reload. It must be called before Start.
func (w *Watcher) OnReload(fn func(error)) {
	w.onReload = fn
}

// Reload loads defaults and the directory into the store.
func (w *Watcher) Reload() error {
	return LoadInto(w.store, w.dir)
}

// Start watches the directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.started = true
	go w.processEvents(ctx)

	w.logger.Info("Schema watcher started",
		zap.String("dir", w.dir),
		zap.Duration("debounce", w.debounce))
	return nil
}

// Stop closes the underlying watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsSchemaFile(event.Name) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()
			w.logger.Debug("Schema change detected",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Schema watcher error", zap.Error(err))

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if !w.pending {
		w.pendingMu.Unlock()
		return
	}
	w.pending = false
	w.pendingMu.Unlock()

	err := w.Reload()
	if w.onReload != nil {
		w.onReload(err)
	}
	if err != nil {
		// A half-edited file must not take the running schemas down.
		w.logger.Warn("Schema reload failed, keeping previous schemas", zap.Error(err))
		return
	}
	w.logger.Info("Schemas reloaded", zap.Int("count", w.store.Len()))
}

// LoadInto replaces the store's schemas with the defaults overlaid by the schemas in dir.
// An empty dir loads only the defaults.
func LoadInto(store *Store, dir string) error {
	base, err := Defaults()
	if err != nil {
		return err
	}
	var overrides []*Schema
	if dir != "" {
		overrides, err = LoadDir(dir)
		if err != nil {
			return err
		}
	}
	return store.Replace(Merge(base, overrides))
}
