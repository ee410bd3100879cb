package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
)

// DefaultAutosaveDelay is the quiet period after the last change before
// pending answers are written.
const DefaultAutosaveDelay = 1500 * time.Millisecond

type saveFunc func(ctx context.Context, recordID string, changes model.FormData) error

// Autosaver coalesces changed answers per record and writes them in one call
// once no change has arrived for the delay. A failed write keeps its changes
// pending, under any newer values, for the next flush.
type Autosaver struct {
	save    saveFunc
	delay   time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	flushMu sync.Mutex // orders writes

	mu       sync.Mutex
	pending  map[string]model.FormData
	timer    *time.Timer
	syncing  bool
	err      error
	closed   bool
	inflight sync.WaitGroup
}

func NewAutosaver(save saveFunc, delay time.Duration, logger *zap.Logger, m *metrics.Metrics) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Autosaver{
		save:    save,
		delay:   delay,
		logger:  logger,
		metrics: m,
		pending: make(map[string]model.FormData),
	}
}

// Queue merges changes into the record's pending answers and restarts the
// quiet period. A nil value deletes the answer when written.
func (a *Autosaver) Queue(recordID string, changes model.FormData) {
	if len(changes) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	p := a.pending[recordID]
	if p == nil {
		p = make(model.FormData, len(changes))
		a.pending[recordID] = p
	}
	for k, v := range changes {
		p[k] = v
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.fire)
}

func (a *Autosaver) fire() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.inflight.Add(1)
	a.mu.Unlock()
	defer a.inflight.Done()

	if err := a.Flush(context.Background()); err != nil {
		a.logger.Warn("Autosave failed", zap.Error(err))
	}
}

// Flush writes everything pending now and waits for the writes.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	batch := a.pending
	a.pending = make(map[string]model.FormData)
	a.syncing = len(batch) > 0
	a.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		changes := batch[id]
		err := a.save(ctx, id, changes)
		a.metrics.Autosave(len(changes), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("save answers of %s: %w", id, err))
			a.requeue(id, changes)
			continue
		}
		a.logger.Debug("Autosaved answers", zap.String("record_id", id), zap.Int("fields", len(changes)))
	}

	err := errors.Join(errs...)
	a.mu.Lock()
	a.syncing = false
	a.err = err
	a.mu.Unlock()
	return err
}

func (a *Autosaver) requeue(recordID string, changes model.FormData) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pending[recordID]
	if p == nil {
		p = make(model.FormData, len(changes))
		a.pending[recordID] = p
	}
	for k, v := range changes {
		if _, newer := p[k]; !newer {
			p[k] = v
		}
	}
}

// Pending reports how many records have unsaved answers.
func (a *Autosaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Syncing reports whether a write is in progress.
func (a *Autosaver) Syncing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncing
}

// Err is the error of the last flush, nil once a flush succeeds.
func (a *Autosaver) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close stops the timer, writes what is pending and waits for a timer flush
// that already started.
func (a *Autosaver) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	err := a.Flush(ctx)
	a.inflight.Wait()
	return err
}
