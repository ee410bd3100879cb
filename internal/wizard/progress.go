package wizard

import "filing-engine/internal/model"

// Progress extracts the tuple persisted for resume. The dependent index is
// only recorded while a dependent is being entered.
func (s State) Progress() model.WizardProgress {
	p := model.WizardProgress{
		LastPhase:            string(s.Phase),
		LastSectionIndex:     s.CurrentSectionIndex,
		LastPersonalFilingID: s.CurrentPersonalFilingID,
	}
	if s.Phase == PhaseDependentActive || s.Phase == PhaseDependentComplete {
		idx := s.CurrentDependentIndex
		p.LastDependentIndex = &idx
	}
	return p
}

// FromProgress rebuilds a state from persisted progress. Nil progress or an
// unknown phase name yields an IDLE state for the filing.
func FromProgress(filingID string, p *model.WizardProgress, totalDependents int) State {
	s := Initial()
	s.FilingID = filingID
	if totalDependents > 0 {
		s.TotalDependents = totalDependents
	}
	if p == nil {
		return s
	}

	phase, ok := ParsePhase(p.LastPhase)
	if !ok {
		return s
	}
	s.Phase = phase
	s.CurrentPersonalFilingID = p.LastPersonalFilingID
	if p.LastSectionIndex > 0 {
		s.CurrentSectionIndex = p.LastSectionIndex
	}
	if p.LastDependentIndex != nil && *p.LastDependentIndex >= 0 {
		s.CurrentDependentIndex = *p.LastDependentIndex
		if s.TotalDependents <= s.CurrentDependentIndex {
			s.TotalDependents = s.CurrentDependentIndex + 1
		}
	}
	return s
}
