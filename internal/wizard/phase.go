// Package wizard is the pure state machine that sequences the data-collection
// phases of a filing: primary filer, optional spouse, zero or more dependents,
// or the single entity form of a corporate or trust filing, and finally review.
package wizard

import "filing-engine/internal/model"

type Phase string

const (
	PhaseIdle                Phase = "IDLE"
	PhasePrimaryActive       Phase = "PRIMARY_ACTIVE"
	PhasePrimaryComplete     Phase = "PRIMARY_COMPLETE"
	PhaseSpouseCheckpoint    Phase = "SPOUSE_CHECKPOINT"
	PhaseSpouseActive        Phase = "SPOUSE_ACTIVE"
	PhaseSpouseComplete      Phase = "SPOUSE_COMPLETE"
	PhaseDependentCheckpoint Phase = "DEPENDENT_CHECKPOINT"
	PhaseDependentActive     Phase = "DEPENDENT_ACTIVE"
	PhaseDependentComplete   Phase = "DEPENDENT_COMPLETE"
	PhaseCorporateActive     Phase = "CORPORATE_ACTIVE"
	PhaseCorporateComplete   Phase = "CORPORATE_COMPLETE"
	PhaseTrustActive         Phase = "TRUST_ACTIVE"
	PhaseTrustComplete       Phase = "TRUST_COMPLETE"
	PhaseReview              Phase = "REVIEW"
)

// Phases lists every phase in wizard order.
var Phases = []Phase{
	PhaseIdle,
	PhasePrimaryActive, PhasePrimaryComplete,
	PhaseSpouseCheckpoint, PhaseSpouseActive, PhaseSpouseComplete,
	PhaseDependentCheckpoint, PhaseDependentActive, PhaseDependentComplete,
	PhaseCorporateActive, PhaseCorporateComplete,
	PhaseTrustActive, PhaseTrustComplete,
	PhaseReview,
}

// ParsePhase returns the phase named s, or false for anything else.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return PhaseIdle, false
}

// Active reports whether the phase is collecting answers for a person or entity.
func (p Phase) Active() bool {
	switch p {
	case PhasePrimaryActive, PhaseSpouseActive, PhaseDependentActive, PhaseCorporateActive, PhaseTrustActive:
		return true
	}
	return false
}

// Checkpoint reports whether the phase is a decision point offering the next
// optional person. The *_COMPLETE phases of individual filings behave as the
// checkpoint that follows them.
func (p Phase) Checkpoint() bool {
	switch p {
	case PhaseSpouseCheckpoint, PhaseDependentCheckpoint,
		PhasePrimaryComplete, PhaseSpouseComplete, PhaseDependentComplete:
		return true
	}
	return false
}

// Role is the schema role whose sections the phase walks through. Entity
// filings use the primary role.
func (p Phase) Role() model.Role {
	switch p {
	case PhaseSpouseActive, PhaseSpouseComplete:
		return model.RoleSpouse
	case PhaseDependentActive, PhaseDependentComplete:
		return model.RoleDependent
	}
	return model.RolePrimary
}

// FilingType reports which kind of filing the phase belongs to. Idle, review
// and the individual phases report INDIVIDUAL.
func (p Phase) FilingType() model.FilingType {
	switch p {
	case PhaseCorporateActive, PhaseCorporateComplete:
		return model.FilingCorporate
	case PhaseTrustActive, PhaseTrustComplete:
		return model.FilingTrust
	}
	return model.FilingIndividual
}
