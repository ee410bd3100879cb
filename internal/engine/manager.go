package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"filing-engine/internal/model"
	"filing-engine/internal/schema"
	"filing-engine/internal/store"
)

// Manager keeps the open sessions of a server, one per filing.
type Manager struct {
	repo    store.Repository
	schemas *schema.Store
	opts    Options
	guard   Guard

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(repo store.Repository, schemas *schema.Store, opts Options) *Manager {
	return &Manager{
		repo:     repo,
		schemas:  schemas,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Create stores a new filing and returns its started session.
func (m *Manager) Create(ctx context.Context, year int, ft model.FilingType) (*Session, error) {
	s, err := Create(ctx, m.repo, m.schemas, year, ft, m.opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.FilingID()] = s
	m.mu.Unlock()

	m.opts.Logger.Info("Filing created",
		zap.String("filing_id", s.FilingID()),
		zap.Int("year", year),
		zap.String("filing_type", string(ft)))
	return s, nil
}

// Open returns the filing's session, loading it from the repository when it
// is not open yet.
func (m *Manager) Open(ctx context.Context, filingID string) (*Session, error) {
	if s, err := m.Get(filingID); err == nil {
		return s, nil
	}

	s, _, err := guarded(&m.guard, filingID, "open-session", func() (*Session, error) {
		if s, err := m.Get(filingID); err == nil {
			return s, nil
		}
		s, err := Open(ctx, m.repo, m.schemas, filingID, m.opts)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[filingID] = s
		m.mu.Unlock()
		return s, nil
	})
	return s, err
}

func (m *Manager) Get(filingID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[filingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, filingID)
	}
	return s, nil
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close flushes and forgets a session.
func (m *Manager) Close(ctx context.Context, filingID string) error {
	m.mu.Lock()
	s, ok := m.sessions[filingID]
	delete(m.sessions, filingID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, filingID)
	}
	return s.Close(ctx)
}

// CloseAll flushes every open session.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
