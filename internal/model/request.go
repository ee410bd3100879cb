package model

import json "github.com/goccy/go-json"

type ActionRequest struct {
	FilingID        string          `json:"filing_id"`
	FilingType      FilingType      `json:"filing_type,omitempty"`
	Progress        *WizardProgress `json:"progress,omitempty"`
	TotalDependents int             `json:"total_dependents,omitempty"`
	Actions         []ActionCall    `json:"actions"`
}

type ActionCall struct {
	ActionID string          `json:"action_id,omitempty"`
	Type     string          `json:"type"`
	Props    json.RawMessage `json:"props,omitempty"`
}

// SchemaQuery selects the schema and filer role an engine request runs against.
type SchemaQuery struct {
	Year       int        `json:"year"`
	FilingType FilingType `json:"filingType"`
	Role       Role       `json:"role"`
}

type SectionsRequest struct {
	SchemaQuery
	FormData FormData `json:"formData"`
}

type ValidateRequest struct {
	SchemaQuery
	FormData FormData `json:"formData"`
	StepID   string   `json:"stepId,omitempty"`
}

type FieldsToClearRequest struct {
	SchemaQuery
	ChangedField string   `json:"changedField"`
	OldValue     any      `json:"oldValue"`
	NewValue     any      `json:"newValue"`
	FormData     FormData `json:"formData"`
}

type PriceRequest struct {
	Filing Filing `json:"filing"`
}

type CreateFilingRequest struct {
	Year       int        `json:"year"`
	FilingType FilingType `json:"filingType"`
}

type SetFieldRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}
