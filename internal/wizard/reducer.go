package wizard

// State is the in-memory wizard session. Filings and personal filings are
// referenced by id only.
type State struct {
	Phase                   Phase    `json:"phase"`
	FilingID                string   `json:"filingId,omitempty"`
	CurrentPersonalFilingID string   `json:"currentPersonalFilingId,omitempty"`
	CurrentSectionIndex     int      `json:"currentSectionIndex"`
	CurrentDependentIndex   int      `json:"currentDependentIndex"`
	TotalDependents         int      `json:"totalDependents"`
	CompletedSteps          []string `json:"completedSteps"`
	IsLoading               bool     `json:"isLoading"`
	IsSyncing               bool     `json:"isSyncing"`
	Error                   string   `json:"error,omitempty"`
}

// Initial returns the IDLE state a new session starts in.
func Initial() State {
	return State{Phase: PhaseIdle, CompletedSteps: []string{}}
}

// StepCompleted reports whether stepID was marked complete.
func (s State) StepCompleted(stepID string) bool {
	for _, id := range s.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	steps := make([]string, len(s.CompletedSteps))
	copy(steps, s.CompletedSteps)
	s.CompletedSteps = steps
	return s
}

type transitionKey struct {
	From   Phase
	Action ActionType
}

type transition struct {
	From   Phase
	Action ActionType
	To     Phase
}

var activePhases = []Phase{
	PhasePrimaryActive, PhaseSpouseActive, PhaseDependentActive, PhaseCorporateActive, PhaseTrustActive,
}

// Phase-bound transitions. Navigation keeps the phase; every other entry is a
// phase change. Individual filings reach REVIEW only through the dependent
// checkpoint.
var transitions = func() []transition {
	ts := []transition{
		{PhaseIdle, TypeInitFiling, PhasePrimaryActive},
		{PhaseIdle, TypeInitCorporateFiling, PhaseCorporateActive},
		{PhaseIdle, TypeInitTrustFiling, PhaseTrustActive},

		{PhasePrimaryActive, TypeCompletePhase, PhaseSpouseCheckpoint},
		{PhasePrimaryActive, TypeCompletePrimary, PhaseSpouseCheckpoint},
		{PhaseSpouseActive, TypeCompletePhase, PhaseDependentCheckpoint},
		{PhaseSpouseActive, TypeCompleteSpouse, PhaseDependentCheckpoint},
		{PhaseDependentActive, TypeCompletePhase, PhaseDependentCheckpoint},
		{PhaseDependentActive, TypeCompleteDependent, PhaseDependentCheckpoint},
		{PhaseCorporateActive, TypeCompletePhase, PhaseReview},
		{PhaseCorporateActive, TypeCompleteCorporate, PhaseReview},
		{PhaseTrustActive, TypeCompletePhase, PhaseReview},
		{PhaseTrustActive, TypeCompleteTrust, PhaseReview},

		{PhaseCorporateComplete, TypeGoToReview, PhaseReview},
		{PhaseTrustComplete, TypeGoToReview, PhaseReview},
	}

	for _, p := range []Phase{PhaseSpouseCheckpoint, PhasePrimaryComplete} {
		ts = append(ts,
			transition{p, TypeStartSpouse, PhaseSpouseActive},
			transition{p, TypeSkipSpouse, PhaseDependentCheckpoint},
		)
	}
	for _, p := range []Phase{PhaseDependentCheckpoint, PhaseSpouseComplete, PhaseDependentComplete} {
		ts = append(ts,
			transition{p, TypeAddDependent, p},
			transition{p, TypeStartDependent, PhaseDependentActive},
			transition{p, TypeSkipDependents, PhaseReview},
			transition{p, TypeGoToReview, PhaseReview},
		)
	}
	for _, p := range activePhases {
		ts = append(ts,
			transition{p, TypeNextSection, p},
			transition{p, TypePrevSection, p},
			transition{p, TypeGoToSection, p},
		)
	}
	return ts
}()

var transitionTable = func() map[transitionKey]Phase {
	m := make(map[transitionKey]Phase, len(transitions))
	for _, t := range transitions {
		m[transitionKey{t.From, t.Action}] = t.To
	}
	return m
}()

// Actions that apply in every phase.
var global = map[ActionType]bool{
	TypeMarkStepComplete: true,
	TypeRestore:          true,
	TypeReset:            true,
	TypeSetLoading:       true,
	TypeSetSyncing:       true,
	TypeSetError:         true,
}

// Allowed reports whether a is defined for the state's phase. Reduce leaves
// the state unchanged for anything Allowed rejects.
func Allowed(s State, a Action) bool {
	if a == nil {
		return false
	}
	if global[a.Type()] {
		return true
	}
	_, ok := transitionTable[transitionKey{s.Phase, a.Type()}]
	return ok
}

// Next returns the phase a would move the state to, and false when a is not
// defined for the current phase.
func Next(s State, a Action) (Phase, bool) {
	if !Allowed(s, a) {
		return s.Phase, false
	}
	if to, ok := transitionTable[transitionKey{s.Phase, a.Type()}]; ok {
		return to, true
	}
	return s.Phase, true
}

// Reduce applies a to s and returns the new state. It never modifies s and
// returns s unchanged for actions the current phase does not define.
func Reduce(s State, a Action) State {
	to, ok := Next(s, a)
	if !ok {
		return s
	}

	next := s.clone()
	switch a := a.(type) {
	case InitFiling:
		next.begin(a.FilingID, a.PersonalFilingID)
	case InitCorporateFiling:
		next.begin(a.FilingID, a.PersonalFilingID)
	case InitTrustFiling:
		next.begin(a.FilingID, a.PersonalFilingID)

	case NextSection:
		if a.SectionCount <= 0 || next.CurrentSectionIndex+1 < a.SectionCount {
			next.CurrentSectionIndex++
		}
	case PrevSection:
		if next.CurrentSectionIndex > 0 {
			next.CurrentSectionIndex--
		}
	case GoToSection:
		if a.Index >= 0 {
			next.CurrentSectionIndex = a.Index
		}

	case CompletePhase, CompletePrimary, CompleteSpouse, CompleteDependent, CompleteCorporate, CompleteTrust:
		next.CurrentSectionIndex = 0

	case StartSpouse:
		next.CurrentPersonalFilingID = a.PersonalFilingID
		next.CurrentSectionIndex = 0
	case AddDependent:
		next.TotalDependents++
	case StartDependent:
		if a.Index < 0 {
			return s
		}
		next.CurrentPersonalFilingID = a.PersonalFilingID
		next.CurrentDependentIndex = a.Index
		next.CurrentSectionIndex = 0
		if a.Index >= next.TotalDependents {
			next.TotalDependents = a.Index + 1
		}

	case SkipSpouse, SkipDependents, GoToReview:
		next.CurrentSectionIndex = 0

	case MarkStepComplete:
		if a.StepID != "" && !next.StepCompleted(a.StepID) {
			next.CompletedSteps = append(next.CompletedSteps, a.StepID)
		}
	case Restore:
		return FromProgress(a.FilingID, a.Progress, a.TotalDependents)
	case Reset:
		return Initial()
	case SetLoading:
		next.IsLoading = a.Loading
	case SetSyncing:
		next.IsSyncing = a.Syncing
	case SetError:
		next.Error = a.Error
		next.IsLoading = false
	default:
		return s
	}

	next.Phase = to
	return next
}

func (s *State) begin(filingID, recordID string) {
	s.FilingID = filingID
	s.CurrentPersonalFilingID = recordID
	s.CurrentSectionIndex = 0
	s.CurrentDependentIndex = 0
	s.TotalDependents = 0
	s.CompletedSteps = []string{}
	s.Error = ""
}
