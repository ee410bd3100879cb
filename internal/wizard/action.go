package wizard

import "filing-engine/internal/model"

type ActionType string

const (
	TypeInitFiling          ActionType = "INIT_FILING"
	TypeInitCorporateFiling ActionType = "INIT_CORPORATE_FILING"
	TypeInitTrustFiling     ActionType = "INIT_TRUST_FILING"
	TypeNextSection         ActionType = "NEXT_SECTION"
	TypePrevSection         ActionType = "PREV_SECTION"
	TypeGoToSection         ActionType = "GO_TO_SECTION"
	TypeCompletePhase       ActionType = "COMPLETE_PHASE"
	TypeCompletePrimary     ActionType = "COMPLETE_PRIMARY"
	TypeCompleteSpouse      ActionType = "COMPLETE_SPOUSE"
	TypeCompleteDependent   ActionType = "COMPLETE_DEPENDENT"
	TypeCompleteCorporate   ActionType = "COMPLETE_CORPORATE"
	TypeCompleteTrust       ActionType = "COMPLETE_TRUST"
	TypeStartSpouse         ActionType = "START_SPOUSE"
	TypeAddDependent        ActionType = "ADD_DEPENDENT"
	TypeStartDependent      ActionType = "START_DEPENDENT"
	TypeSkipSpouse          ActionType = "SKIP_SPOUSE"
	TypeSkipDependents      ActionType = "SKIP_DEPENDENTS"
	TypeGoToReview          ActionType = "GO_TO_REVIEW"
	TypeMarkStepComplete    ActionType = "MARK_STEP_COMPLETE"
	TypeRestore             ActionType = "RESTORE"
	TypeReset               ActionType = "RESET"
	TypeSetLoading          ActionType = "SET_LOADING"
	TypeSetSyncing          ActionType = "SET_SYNCING"
	TypeSetError            ActionType = "SET_ERROR"
)

// Action is the closed set of inputs to Reduce. Only the types in this file
// implement it.
type Action interface {
	Type() ActionType
	sealed()
}

// InitFiling starts an individual filing with the primary filer's record.
type InitFiling struct {
	FilingID         string `json:"filingId"`
	PersonalFilingID string `json:"personalFilingId"`
}

// InitCorporateFiling starts a corporate filing; PersonalFilingID is the
// corporate record's id.
type InitCorporateFiling struct {
	FilingID         string `json:"filingId"`
	PersonalFilingID string `json:"personalFilingId"`
}

type InitTrustFiling struct {
	FilingID         string `json:"filingId"`
	PersonalFilingID string `json:"personalFilingId"`
}

// NextSection advances one section. A positive SectionCount stops the index
// at the last section.
type NextSection struct {
	SectionCount int `json:"sectionCount"`
}

type PrevSection struct{}

type GoToSection struct {
	Index int `json:"index"`
}

// CompletePhase completes whichever active phase the wizard is in.
type CompletePhase struct{}

type CompletePrimary struct{}

type CompleteSpouse struct{}

type CompleteDependent struct{}

type CompleteCorporate struct{}

type CompleteTrust struct{}

// StartSpouse enters the spouse phase for a freshly created spouse record.
type StartSpouse struct {
	PersonalFilingID string `json:"personalFilingId"`
}

// AddDependent counts a newly created dependent record without entering it.
type AddDependent struct{}

type StartDependent struct {
	PersonalFilingID string `json:"personalFilingId"`
	Index            int    `json:"index"`
}

type SkipSpouse struct{}

type SkipDependents struct{}

type GoToReview struct{}

type MarkStepComplete struct {
	StepID string `json:"stepId"`
}

// Restore rebuilds the state from persisted progress.
type Restore struct {
	FilingID        string                `json:"filingId"`
	Progress        *model.WizardProgress `json:"progress"`
	TotalDependents int                   `json:"totalDependents"`
}

type Reset struct{}

type SetLoading struct {
	Loading bool `json:"loading"`
}

type SetSyncing struct {
	Syncing bool `json:"syncing"`
}

type SetError struct {
	Error string `json:"error"`
}

func (InitFiling) Type() ActionType          { return TypeInitFiling }
func (InitCorporateFiling) Type() ActionType { return TypeInitCorporateFiling }
func (InitTrustFiling) Type() ActionType     { return TypeInitTrustFiling }
func (NextSection) Type() ActionType         { return TypeNextSection }
func (PrevSection) Type() ActionType         { return TypePrevSection }
func (GoToSection) Type() ActionType         { return TypeGoToSection }
func (CompletePhase) Type() ActionType       { return TypeCompletePhase }
func (CompletePrimary) Type() ActionType     { return TypeCompletePrimary }
func (CompleteSpouse) Type() ActionType      { return TypeCompleteSpouse }
func (CompleteDependent) Type() ActionType   { return TypeCompleteDependent }
func (CompleteCorporate) Type() ActionType   { return TypeCompleteCorporate }
func (CompleteTrust) Type() ActionType       { return TypeCompleteTrust }
func (StartSpouse) Type() ActionType         { return TypeStartSpouse }
func (AddDependent) Type() ActionType        { return TypeAddDependent }
func (StartDependent) Type() ActionType      { return TypeStartDependent }
func (SkipSpouse) Type() ActionType          { return TypeSkipSpouse }
func (SkipDependents) Type() ActionType      { return TypeSkipDependents }
func (GoToReview) Type() ActionType          { return TypeGoToReview }
func (MarkStepComplete) Type() ActionType    { return TypeMarkStepComplete }
func (Restore) Type() ActionType             { return TypeRestore }
func (Reset) Type() ActionType               { return TypeReset }
func (SetLoading) Type() ActionType          { return TypeSetLoading }
func (SetSyncing) Type() ActionType          { return TypeSetSyncing }
func (SetError) Type() ActionType            { return TypeSetError }

func (InitFiling) sealed()          {}
func (InitCorporateFiling) sealed() {}
func (InitTrustFiling) sealed()     {}
func (NextSection) sealed()         {}
func (PrevSection) sealed()         {}
func (GoToSection) sealed()         {}
func (CompletePhase) sealed()       {}
func (CompletePrimary) sealed()     {}
func (CompleteSpouse) sealed()      {}
func (CompleteDependent) sealed()   {}
func (CompleteCorporate) sealed()   {}
func (CompleteTrust) sealed()       {}
func (StartSpouse) sealed()         {}
func (AddDependent) sealed()        {}
func (StartDependent) sealed()      {}
func (SkipSpouse) sealed()          {}
func (SkipDependents) sealed()      {}
func (GoToReview) sealed()          {}
func (MarkStepComplete) sealed()    {}
func (Restore) sealed()             {}
func (Reset) sealed()               {}
func (SetLoading) sealed()          {}
func (SetSyncing) sealed()          {}
func (SetError) sealed()            {}
