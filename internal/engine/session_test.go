package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filing-engine/internal/model"
	"filing-engine/internal/pricing"
	"filing-engine/internal/schema"
	"filing-engine/internal/store"
	"filing-engine/internal/wizard"
)

func sectionIDs(s *Session) []string {
	var ids []string
	for _, sec := range s.Sections() {
		ids = append(ids, sec.Step.ID)
	}
	return ids
}

func TestIndividualFilingEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)

	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	st := s.State()
	require.Equal(t, wizard.PhasePrimaryActive, st.Phase)
	primaryID := st.CurrentPersonalFilingID
	require.NotEmpty(t, primaryID)

	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	_, err = s.SetField("income.hasRental", "YES")
	require.NoError(t, err)
	assert.Equal(t, []string{"personal", "income", "rental"}, sectionIDs(s))
	_, err = s.SetField("rental.address", "1 Main St")
	require.NoError(t, err)

	cleared, err := s.SetField("income.hasRental", "NO")
	require.NoError(t, err)
	assert.Equal(t, []string{"rental.address"}, cleared)
	assert.Equal(t, []string{"personal", "income"}, sectionIDs(s))

	require.NoError(t, s.CompleteCurrentPhase(ctx))
	assert.Equal(t, wizard.PhaseSpouseCheckpoint, s.State().Phase)

	_, _, err = s.Submit(ctx)
	assert.ErrorIs(t, err, ErrNotInReview)
	assert.ErrorIs(t, s.GoToReview(ctx), ErrInvalidTransition)

	spouse, err := s.AddSpouse(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSpouse, spouse.Type)
	assert.Equal(t, wizard.PhaseSpouseActive, s.State().Phase)
	_, err = s.SetField("personal.name", "Grace")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))
	assert.Equal(t, wizard.PhaseDependentCheckpoint, s.State().Phase)

	dep, err := s.AddDependent(ctx)
	require.NoError(t, err)
	st = s.State()
	assert.Equal(t, wizard.PhaseDependentActive, st.Phase)
	assert.Equal(t, dep.ID, st.CurrentPersonalFilingID)
	assert.Equal(t, 0, st.CurrentDependentIndex)
	assert.Equal(t, 1, st.TotalDependents)
	assert.Equal(t, []string{"personal", "income"}, sectionIDs(s))
	_, err = s.SetField("personal.name", "Kit")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))

	require.NoError(t, s.GoToReview(ctx))
	assert.Equal(t, wizard.PhaseReview, s.State().Phase)

	preview := s.Price()
	assert.Equal(t, pricing.ModeSchema, preview.Mode)
	assert.InDelta(t, 449.97, preview.Subtotal, 1e-9)
	assert.Len(t, preview.People, 3)

	f, b, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, f.Status)
	assert.True(t, strings.HasPrefix(f.ReferenceNumber, "TX2024-"))
	require.NotNil(t, f.TotalPrice)
	assert.InDelta(t, b.Total, *f.TotalPrice, 1e-9)
	assert.InDelta(t, b.Subtotal+b.Tax, b.Total, 1e-9)
	assert.Equal(t, wizard.PhaseIdle, s.State().Phase)

	stored, err := repo.GetFiling(ctx, f.ID)
	require.NoError(t, err)
	primary := stored.Person(primaryID)
	require.NotNil(t, primary)
	assert.True(t, primary.IsComplete)
	assert.Equal(t, model.FormData{"personal.name": "Ada", "income.hasRental": "NO"}, primary.FormData)

	_, err = s.SetField("personal.name", "Late")
	assert.ErrorIs(t, err, store.ErrSubmitted)
}

func TestCorporateFilingCompletesInOneStep(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)

	s, err := m.Create(ctx, 2024, model.FilingCorporate)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseCorporateActive, s.State().Phase)

	_, err = s.SetField(model.FieldCorporateName, "Acme Ltd")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))
	assert.Equal(t, wizard.PhaseReview, s.State().Phase)

	b := s.Price()
	assert.Equal(t, pricing.ModeLegacy, b.Mode)
	assert.InDelta(t, 149.99, b.Subtotal, 1e-9)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Acme Ltd - Base Fee", b.Items[0].Description)

	f, _, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, f.Status)
	assert.True(t, f.Corporate.IsComplete)
}

func TestCreateWithoutSchema(t *testing.T) {
	m := newManager(t, newSpyRepo(), time.Hour)
	_, err := m.Create(context.Background(), 2024, model.FilingTrust)
	assert.ErrorIs(t, err, schema.ErrSchemaNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestCompleteRequiresValidAnswers(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)

	err = s.CompleteCurrentPhase(ctx)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, model.RolePrimary, verr.Role)
	assert.Equal(t, 1, verr.Result.Count)
	assert.Contains(t, verr.Result.BySection, "personal")
	assert.Equal(t, wizard.PhasePrimaryActive, s.State().Phase)

	res := s.ValidateCurrentPhase()
	assert.False(t, res.IsValid)
}

func TestNextSectionStaysOnInvalidSection(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)

	res, err := s.NextSection(ctx)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, 0, s.State().CurrentSectionIndex)

	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	res, err = s.NextSection(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	st := s.State()
	assert.Equal(t, 1, st.CurrentSectionIndex)
	assert.Equal(t, []string{"personal"}, st.CompletedSteps)
	sec, ok := s.CurrentSection()
	require.True(t, ok)
	assert.Equal(t, "income", sec.Step.ID)

	// Last visible section: the index does not move past it.
	_, err = s.NextSection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.State().CurrentSectionIndex)

	require.NoError(t, s.PrevSection(ctx))
	assert.Equal(t, 0, s.State().CurrentSectionIndex)
	assert.ErrorIs(t, s.GoToSection(ctx, 5), ErrSectionOutOfRange)
	require.NoError(t, s.GoToSection(ctx, 1))
	assert.Equal(t, 1, s.State().CurrentSectionIndex)
}

func TestSetFieldOutsideActivePhase(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))

	_, err = s.SetField("personal.name", "Ada")
	assert.ErrorIs(t, err, ErrNoActiveRecord)
	_, err = s.ValidateSection()
	assert.ErrorIs(t, err, ErrNoActiveRecord)
}

func TestSkipToReview(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))

	assert.ErrorIs(t, s.SkipDependents(ctx), ErrInvalidTransition)
	require.NoError(t, s.SkipSpouse(ctx))
	require.NoError(t, s.SkipDependents(ctx))
	assert.Equal(t, wizard.PhaseReview, s.State().Phase)

	_, err = s.AddDependent(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOpenResumesSavedProgress(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)

	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	_, err = s.NextSection(ctx)
	require.NoError(t, err)
	_, err = s.SetField("income.hasRental", "YES")
	require.NoError(t, err)
	require.NoError(t, s.SaveAndExit(ctx))
	want := s.State()
	require.NoError(t, m.Close(ctx, s.FilingID()))

	other := newManager(t, repo, time.Hour)
	resumed, err := other.Open(ctx, want.FilingID)
	require.NoError(t, err)
	got := resumed.State()

	assert.Equal(t, want.Phase, got.Phase)
	assert.Equal(t, want.CurrentSectionIndex, got.CurrentSectionIndex)
	assert.Equal(t, want.CurrentPersonalFilingID, got.CurrentPersonalFilingID)
	assert.Equal(t, "YES", resumed.Filing().Person(got.CurrentPersonalFilingID).FormData["income.hasRental"])
	assert.Equal(t, []string{"personal", "income", "rental"}, sectionIDs(resumed))

	// Start on a resumed session is a no-op.
	require.NoError(t, resumed.Start(ctx))
	if diff := cmp.Diff(got, resumed.State()); diff != "" {
		t.Errorf("state changed (-want +got):\n%s", diff)
	}
}

func TestAutosaveCoalescesChanges(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, 20*time.Millisecond)

	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	for _, name := range []string{"A", "Ad", "Ada"} {
		_, err = s.SetField("personal.name", name)
		require.NoError(t, err)
	}
	_, err = s.SetField("income.hasRental", "NO")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return repo.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	repo.mu.Lock()
	assert.Equal(t, model.FormData{"personal.name": "Ada", "income.hasRental": "NO"}, repo.saves[0])
	repo.mu.Unlock()

	f, err := repo.GetFiling(ctx, s.FilingID())
	require.NoError(t, err)
	assert.Equal(t, "Ada", f.PersonalFilings[0].FormData["personal.name"])
	assert.False(t, s.State().IsSyncing)
}

func TestAutosaveErrorShowsInState(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)

	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)

	repo.mu.Lock()
	repo.saveErr = errors.New("connection refused")
	repo.mu.Unlock()
	require.Error(t, s.SaveAndExit(ctx))
	assert.Contains(t, s.State().Error, "connection refused")

	repo.mu.Lock()
	repo.saveErr = nil
	repo.mu.Unlock()
	require.NoError(t, s.SaveAndExit(ctx))
	assert.Empty(t, s.State().Error)

	f, err := repo.GetFiling(ctx, s.FilingID())
	require.NoError(t, err)
	assert.Equal(t, "Ada", f.PersonalFilings[0].FormData["personal.name"])
}

func TestAddSpouseConcurrentCallsShareCreation(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)

	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))

	repo.mu.Lock()
	repo.creates = 0
	repo.entered = make(chan struct{}, 2)
	repo.release = make(chan struct{})
	repo.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]*model.PersonalFiling, 2)
	errs := make([]error, 2)
	call := func(i int) {
		defer wg.Done()
		results[i], errs[i] = s.AddSpouse(ctx)
	}

	wg.Add(2)
	go call(0)
	<-repo.entered
	go call(1)
	assert.Eventually(t, func() bool { return s.State().IsLoading }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	assert.Equal(t, 1, repo.creates)

	st := s.State()
	assert.Equal(t, wizard.PhaseSpouseActive, st.Phase)
	assert.Equal(t, results[0].ID, st.CurrentPersonalFilingID)
	assert.False(t, st.IsLoading)

	f := s.Filing()
	assert.NoError(t, f.CheckInvariants())
	assert.Len(t, f.PersonalFilings, 2)
}

func TestAddDependentJoinsCreationUntilWizardMoves(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))
	require.NoError(t, s.SkipSpouse(ctx))

	// A creation whose record exists but whose wizard step has not run yet.
	pending := &creation{done: make(chan struct{})}
	s.mu.Lock()
	s.creating = map[string]*creation{"add-dependent": pending}
	s.mu.Unlock()

	repo.mu.Lock()
	repo.creates = 0
	repo.mu.Unlock()

	got := make(chan *model.PersonalFiling, 1)
	go func() {
		p, err := s.AddDependent(ctx)
		assert.NoError(t, err)
		got <- p
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return pending.waiters == 1
	}, time.Second, time.Millisecond)
	repo.mu.Lock()
	assert.Zero(t, repo.creates, "a caller inside the window must not create again")
	repo.mu.Unlock()

	s.mu.Lock()
	s.endCreateLocked("add-dependent", pending, &model.PersonalFiling{ID: "dep-1", Type: model.RoleDependent}, nil)
	s.mu.Unlock()

	select {
	case p := <-got:
		require.NotNil(t, p)
		assert.Equal(t, "dep-1", p.ID)
	case <-time.After(time.Second):
		t.Fatal("AddDependent did not return")
	}
	assert.False(t, s.State().IsLoading)
}

func TestAddDependentRejectedWhileEnteringDependent(t *testing.T) {
	ctx := context.Background()
	repo := newSpyRepo()
	m := newManager(t, repo, time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))
	require.NoError(t, s.SkipSpouse(ctx))

	first, err := s.AddDependent(ctx)
	require.NoError(t, err)
	_, err = s.AddDependent(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "a dependent is already being entered")

	st := s.State()
	assert.Equal(t, first.ID, st.CurrentPersonalFilingID)
	assert.Equal(t, 1, st.TotalDependents)
	assert.Len(t, s.Filing().Dependents(), 1)
}

func TestStartDependentReopensByIndex(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newSpyRepo(), time.Hour)
	s, err := m.Create(ctx, 2024, model.FilingIndividual)
	require.NoError(t, err)
	_, err = s.SetField("personal.name", "Ada")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCurrentPhase(ctx))
	require.NoError(t, s.SkipSpouse(ctx))

	var ids []string
	for _, name := range []string{"Kit", "Max"} {
		p, err := s.AddDependent(ctx)
		require.NoError(t, err)
		ids = append(ids, p.ID)
		_, err = s.SetField("personal.name", name)
		require.NoError(t, err)
		require.NoError(t, s.CompleteCurrentPhase(ctx))
	}
	assert.Equal(t, 2, s.State().TotalDependents)

	assert.ErrorIs(t, s.StartDependent(ctx, 2), store.ErrNotFound)
	require.NoError(t, s.StartDependent(ctx, 0))
	st := s.State()
	assert.Equal(t, ids[0], st.CurrentPersonalFilingID)
	assert.Equal(t, 0, st.CurrentDependentIndex)
	assert.Equal(t, 2, st.TotalDependents)
}
