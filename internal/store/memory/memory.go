// Package memory is an in-process Repository used by tests and the CLI.
package memory

import (
	"context"
	"fmt"
	"sync"

	"filing-engine/internal/model"
	"filing-engine/internal/store"
)

type Repository struct {
	mu      sync.RWMutex
	filings map[string]*model.Filing
	owner   map[string]string // record id -> filing id
}

func New() *Repository {
	return &Repository{
		filings: make(map[string]*model.Filing),
		owner:   make(map[string]string),
	}
}

var _ store.Repository = (*Repository)(nil)

// Put stores a copy of f, replacing any filing with the same id.
func (r *Repository) Put(f *model.Filing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := f.Clone()
	r.filings[c.ID] = c
	for _, p := range c.PersonalFilings {
		r.owner[p.ID] = c.ID
	}
	if e := c.Entity(); e != nil {
		r.owner[e.ID] = c.ID
	}
}

func (r *Repository) CreateFiling(_ context.Context, year int, filingType model.FilingType) (*model.Filing, error) {
	if _, ok := model.ParseFilingType(string(filingType)); !ok {
		return nil, fmt.Errorf("%w: filing type %q", store.ErrInvalidInput, filingType)
	}
	f := &model.Filing{
		ID:     model.NewID(),
		Year:   year,
		Type:   filingType,
		Status: model.StatusDraft,
	}
	switch filingType {
	case model.FilingCorporate:
		f.Corporate = &model.EntityFiling{ID: model.NewID(), FormData: model.FormData{}}
	case model.FilingTrust:
		f.Trust = &model.EntityFiling{ID: model.NewID(), FormData: model.FormData{}}
	}
	r.Put(f)
	return f.Clone(), nil
}

func (r *Repository) GetFiling(_ context.Context, filingID string) (*model.Filing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filings[filingID]
	if !ok {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	return f.Clone(), nil
}

func (r *Repository) CreatePersonalFiling(_ context.Context, filingID string, role model.Role) (*model.PersonalFiling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filings[filingID]
	if !ok {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	if f.Type != model.FilingIndividual {
		return nil, fmt.Errorf("%w: %s filings have no personal filings", store.ErrInvalidInput, f.Type)
	}
	if role != model.RoleDependent && f.FirstOfType(role) != nil {
		return nil, fmt.Errorf("%w: filing %s already has a %s", store.ErrInvalidInput, filingID, role)
	}

	p := model.PersonalFiling{ID: model.NewID(), Type: role, FormData: model.FormData{}}
	f.PersonalFilings = append(f.PersonalFilings, p)
	if f.Status == model.StatusDraft {
		f.Status = model.StatusInProgress
	}
	r.owner[p.ID] = filingID
	return &model.PersonalFiling{ID: p.ID, Type: role, FormData: model.FormData{}}, nil
}

func (r *Repository) SaveFormData(_ context.Context, recordID string, changes model.FormData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.ownerOf(recordID)
	if err != nil {
		return err
	}
	if !model.Editable(f.Status) {
		return fmt.Errorf("filing %s: %w", f.ID, store.ErrSubmitted)
	}
	data, _ := f.Answers(recordID)
	f.SetAnswers(recordID, store.Merge(data.Clone(), changes))
	return nil
}

func (r *Repository) MarkComplete(_ context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.ownerOf(recordID)
	if err != nil {
		return err
	}
	if e := f.Entity(); e != nil && e.ID == recordID {
		e.IsComplete = true
		return nil
	}
	f.Person(recordID).IsComplete = true
	return nil
}

func (r *Repository) SaveProgress(_ context.Context, filingID string, progress model.WizardProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filings[filingID]
	if !ok {
		return fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	f.WizardProgress = &progress
	return nil
}

func (r *Repository) Submit(_ context.Context, filingID string, totalPrice float64) (*model.Filing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filings[filingID]
	if !ok {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrNotFound)
	}
	if !model.Editable(f.Status) {
		return nil, fmt.Errorf("filing %s: %w", filingID, store.ErrSubmitted)
	}
	f.TotalPrice = &totalPrice
	f.ReferenceNumber = model.NewReferenceNumber(f.Year)
	f.Status = model.StatusSubmitted
	return f.Clone(), nil
}

func (r *Repository) ownerOf(recordID string) (*model.Filing, error) {
	filingID, ok := r.owner[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", recordID, store.ErrNotFound)
	}
	return r.filings[filingID], nil
}
