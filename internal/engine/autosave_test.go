package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filing-engine/internal/model"
)

type recorder struct {
	mu    sync.Mutex
	fail  bool
	saved map[string][]model.FormData
}

func (r *recorder) save(_ context.Context, id string, changes model.FormData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("offline")
	}
	if r.saved == nil {
		r.saved = make(map[string][]model.FormData)
	}
	r.saved[id] = append(r.saved[id], changes.Clone())
	return nil
}

func (r *recorder) calls(id string) []model.FormData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[id]
}

func TestAutosaverFlushWritesPerRecord(t *testing.T) {
	rec := &recorder{}
	a := NewAutosaver(rec.save, time.Hour, nil, nil)
	defer a.Close(context.Background())

	a.Queue("p1", model.FormData{"a": 1})
	a.Queue("p2", model.FormData{"b": 2})
	a.Queue("p1", model.FormData{"a": 3, "c": nil})
	a.Queue("p1", nil)
	assert.Equal(t, 2, a.Pending())

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, []model.FormData{{"a": 3, "c": nil}}, rec.calls("p1"))
	assert.Equal(t, []model.FormData{{"b": 2}}, rec.calls("p2"))
	assert.Equal(t, 0, a.Pending())
}

func TestAutosaverKeepsFailedChanges(t *testing.T) {
	rec := &recorder{fail: true}
	a := NewAutosaver(rec.save, time.Hour, nil, nil)
	defer a.Close(context.Background())

	a.Queue("p1", model.FormData{"a": 1, "b": 1})
	err := a.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, a.Err(), "offline")
	assert.Equal(t, 1, a.Pending())

	a.Queue("p1", model.FormData{"a": 2})
	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()

	require.NoError(t, a.Flush(context.Background()))
	assert.NoError(t, a.Err())
	assert.Equal(t, []model.FormData{{"a": 2, "b": 1}}, rec.calls("p1"))
}

func TestAutosaverDebounces(t *testing.T) {
	rec := &recorder{}
	a := NewAutosaver(rec.save, 30*time.Millisecond, nil, nil)

	for i := 0; i < 5; i++ {
		a.Queue("p1", model.FormData{"n": i})
	}
	require.Eventually(t, func() bool { return len(rec.calls("p1")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.FormData{"n": 4}, rec.calls("p1")[0])

	require.NoError(t, a.Close(context.Background()))
}

func TestAutosaverCloseFlushesAndStops(t *testing.T) {
	rec := &recorder{}
	a := NewAutosaver(rec.save, time.Hour, nil, nil)

	a.Queue("p1", model.FormData{"a": 1})
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, rec.calls("p1"), 1)

	a.Queue("p1", model.FormData{"a": 2})
	assert.Equal(t, 0, a.Pending())
}
