package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type FilingType string

const (
	FilingIndividual FilingType = "INDIVIDUAL"
	FilingCorporate  FilingType = "CORPORATE"
	FilingTrust      FilingType = "TRUST"
)

// ParseFilingType accepts the upper-case wire form and the lower-case form used in schema file names.
func ParseFilingType(s string) (FilingType, bool) {
	switch FilingType(strings.ToUpper(strings.TrimSpace(s))) {
	case FilingIndividual:
		return FilingIndividual, true
	case FilingCorporate:
		return FilingCorporate, true
	case FilingTrust:
		return FilingTrust, true
	}
	return "", false
}

// Role is the filer role a personal filing (and a schema step or question) applies to.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSpouse    Role = "spouse"
	RoleDependent Role = "dependent"
)

func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePrimary:
		return RolePrimary, true
	case RoleSpouse:
		return RoleSpouse, true
	case RoleDependent:
		return RoleDependent, true
	}
	return "", false
}

const (
	StatusDraft       = "DRAFT"
	StatusInProgress  = "IN_PROGRESS"
	StatusSubmitted   = "SUBMITTED"
	StatusUnderReview = "UNDER_REVIEW"
	StatusCompleted   = "COMPLETED"
)

// Editable reports whether a filing in status can still be changed and submitted.
func Editable(status string) bool {
	return status == "" || status == StatusDraft || status == StatusInProgress
}

// FormData is the flat answer map of one filer, keyed by dot-namespaced question name.
type FormData map[string]any

// Clone returns a shallow copy. Values are never mutated in place, so sharing them is safe.
func (d FormData) Clone() FormData {
	out := make(FormData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

type PersonalFiling struct {
	ID         string   `json:"id"`
	Type       Role     `json:"type"`
	FirstName  string   `json:"firstName,omitempty"`
	LastName   string   `json:"lastName,omitempty"`
	FormData   FormData `json:"formData"`
	IsComplete bool     `json:"isComplete"`
}

// Answer keys the display names fall back to.
const (
	FieldFirstName     = "personalInfo.firstName"
	FieldLastName      = "personalInfo.lastName"
	FieldCorporateName = "corporation.legalName"
	FieldTrustName     = "trust.name"
)

// DisplayName returns the filer's name from the record, or from their answers
// when the record carries none. It is "" when no name was entered.
func (p *PersonalFiling) DisplayName() string {
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	first, _ := p.FormData[FieldFirstName].(string)
	last, _ := p.FormData[FieldLastName].(string)
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// EntityFiling is the single answer record of a corporate or trust filing.
type EntityFiling struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	FormData   FormData `json:"formData"`
	IsComplete bool     `json:"isComplete"`
}

// DisplayName returns the entity's name, falling back to the legal name answer.
func (e *EntityFiling) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	for _, key := range []string{FieldCorporateName, FieldTrustName} {
		if name, ok := e.FormData[key].(string); ok && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

type WizardProgress struct {
	LastPhase            string `json:"lastPhase"`
	LastSectionIndex     int    `json:"lastSectionIndex"`
	LastPersonalFilingID string `json:"lastPersonalFilingId,omitempty"`
	LastDependentIndex   *int   `json:"lastDependentIndex,omitempty"`
}

type Filing struct {
	ID              string           `json:"id"`
	Year            int              `json:"year"`
	Type            FilingType       `json:"type"`
	Status          string           `json:"status"`
	TotalPrice      *float64         `json:"totalPrice,omitempty"`
	ReferenceNumber string           `json:"referenceNumber,omitempty"`
	PersonalFilings []PersonalFiling `json:"personalFilings,omitempty"`
	Corporate       *EntityFiling    `json:"corporateFiling,omitempty"`
	Trust           *EntityFiling    `json:"trustFiling,omitempty"`
	WizardProgress  *WizardProgress  `json:"wizardProgress,omitempty"`
}

// Clone returns a copy that shares no maps or slices with f.
func (f *Filing) Clone() *Filing {
	if f == nil {
		return nil
	}
	out := *f
	if f.TotalPrice != nil {
		price := *f.TotalPrice
		out.TotalPrice = &price
	}
	if f.PersonalFilings != nil {
		out.PersonalFilings = make([]PersonalFiling, len(f.PersonalFilings))
		for i, p := range f.PersonalFilings {
			p.FormData = p.FormData.Clone()
			out.PersonalFilings[i] = p
		}
	}
	out.Corporate = f.Corporate.clone()
	out.Trust = f.Trust.clone()
	if f.WizardProgress != nil {
		wp := *f.WizardProgress
		if wp.LastDependentIndex != nil {
			idx := *wp.LastDependentIndex
			wp.LastDependentIndex = &idx
		}
		out.WizardProgress = &wp
	}
	return &out
}

func (e *EntityFiling) clone() *EntityFiling {
	if e == nil {
		return nil
	}
	out := *e
	out.FormData = e.FormData.Clone()
	return &out
}

// Person returns the personal filing with the given id.
func (f *Filing) Person(id string) *PersonalFiling {
	for i := range f.PersonalFilings {
		if f.PersonalFilings[i].ID == id {
			return &f.PersonalFilings[i]
		}
	}
	return nil
}

// FirstOfType returns the first personal filing of the given role.
func (f *Filing) FirstOfType(t Role) *PersonalFiling {
	for i := range f.PersonalFilings {
		if f.PersonalFilings[i].Type == t {
			return &f.PersonalFilings[i]
		}
	}
	return nil
}

// Dependents returns the dependents in filing order.
func (f *Filing) Dependents() []*PersonalFiling {
	var out []*PersonalFiling
	for i := range f.PersonalFilings {
		if f.PersonalFilings[i].Type == RoleDependent {
			out = append(out, &f.PersonalFilings[i])
		}
	}
	return out
}

// Entity returns the corporate or trust record, or nil for individual filings.
func (f *Filing) Entity() *EntityFiling {
	switch f.Type {
	case FilingCorporate:
		return f.Corporate
	case FilingTrust:
		return f.Trust
	}
	return nil
}

// Answers returns the form data stored under a personal or entity record id.
func (f *Filing) Answers(recordID string) (FormData, bool) {
	if e := f.Entity(); e != nil && e.ID == recordID {
		return e.FormData, true
	}
	if p := f.Person(recordID); p != nil {
		return p.FormData, true
	}
	return nil, false
}

// SetAnswers replaces the form data stored under a personal or entity record id.
func (f *Filing) SetAnswers(recordID string, data FormData) bool {
	if e := f.Entity(); e != nil && e.ID == recordID {
		e.FormData = data
		return true
	}
	if p := f.Person(recordID); p != nil {
		p.FormData = data
		return true
	}
	return false
}

// CheckInvariants reports a filing whose personal filings break the one-primary, at-most-one-spouse rule.
func (f *Filing) CheckInvariants() error {
	if f.Type != FilingIndividual {
		if len(f.PersonalFilings) > 0 {
			return fmt.Errorf("%s filing %s must not carry personal filings", f.Type, f.ID)
		}
		return nil
	}
	var primaries, spouses int
	for _, p := range f.PersonalFilings {
		switch p.Type {
		case RolePrimary:
			primaries++
		case RoleSpouse:
			spouses++
		}
	}
	if len(f.PersonalFilings) > 0 && primaries != 1 {
		return fmt.Errorf("filing %s has %d primary filers", f.ID, primaries)
	}
	if spouses > 1 {
		return fmt.Errorf("filing %s has %d spouses", f.ID, spouses)
	}
	return nil
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.New().String()
}

// NewReferenceNumber returns the human-facing identifier assigned on submission.
func NewReferenceNumber(year int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("TX%d-%s", year, strings.ToUpper(id[:10]))
}
