// Package store defines the persistence port the wizard orchestrator writes
// through. Adapters live in the memory and sqlite subpackages and in
// internal/cms.
package store

import (
	"context"
	"errors"

	"filing-engine/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrSubmitted    = errors.New("filing already submitted")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is what the orchestrator needs from the backend that owns
// filings and personal filings.
type Repository interface {
	// CreateFiling creates a draft filing. Corporate and trust filings get
	// their entity record in the same call.
	CreateFiling(ctx context.Context, year int, filingType model.FilingType) (*model.Filing, error)
	GetFiling(ctx context.Context, filingID string) (*model.Filing, error)
	CreatePersonalFiling(ctx context.Context, filingID string, role model.Role) (*model.PersonalFiling, error)
	// SaveFormData merges changes into the record's form data. A nil value
	// removes the answer.
	SaveFormData(ctx context.Context, recordID string, changes model.FormData) error
	MarkComplete(ctx context.Context, recordID string) error
	SaveProgress(ctx context.Context, filingID string, progress model.WizardProgress) error
	// Submit stores the computed total, assigns a reference number and moves
	// the filing to SUBMITTED.
	Submit(ctx context.Context, filingID string, totalPrice float64) (*model.Filing, error)
}

// Merge applies changes to data in place, deleting keys whose change is nil.
func Merge(data, changes model.FormData) model.FormData {
	if data == nil {
		data = make(model.FormData, len(changes))
	}
	for k, v := range changes {
		if v == nil {
			delete(data, k)
			continue
		}
		data[k] = v
	}
	return data
}
