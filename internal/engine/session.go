package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"filing-engine/internal/jsonpatch"
	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
	"filing-engine/internal/pricing"
	"filing-engine/internal/questions"
	"filing-engine/internal/schema"
	"filing-engine/internal/store"
	"filing-engine/internal/wizard"
)

type Options struct {
	AutosaveDelay time.Duration
	// LegacyFees price filings whose schema carries no pricing.
	LegacyFees pricing.LegacyFees
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LegacyFees == (pricing.LegacyFees{}) {
		o.LegacyFees = pricing.DefaultLegacyFees
	}
	return o
}

// Session is one filer's wizard over one filing. All methods are safe for
// concurrent use.
type Session struct {
	repo     store.Repository
	logger   *zap.Logger
	metrics  *metrics.Metrics
	fees     pricing.LegacyFees
	autosave *Autosaver
	guard    *Guard

	mu       sync.Mutex
	filing   *model.Filing
	sc       *schema.Schema
	state    wizard.State
	creating map[string]*creation
}

func newSession(repo store.Repository, f *model.Filing, sc *schema.Schema, opts Options) *Session {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("filing_id", f.ID), zap.String("filing_type", string(f.Type)))
	return &Session{
		repo:     repo,
		logger:   logger,
		metrics:  opts.Metrics,
		fees:     opts.LegacyFees,
		autosave: NewAutosaver(repo.SaveFormData, opts.AutosaveDelay, logger, opts.Metrics),
		guard:    &Guard{},
		filing:   f,
		sc:       sc,
		state:    wizard.FromProgress(f.ID, f.WizardProgress, len(f.Dependents())),
	}
}

// Create stores a new filing and returns an idle session for it. The schema
// is resolved first so a filing is never created for a type without one.
func Create(ctx context.Context, repo store.Repository, schemas *schema.Store, year int, ft model.FilingType, opts Options) (*Session, error) {
	sc, err := schemas.Get(year, ft)
	if err != nil {
		return nil, err
	}
	f, err := repo.CreateFiling(ctx, year, ft)
	if err != nil {
		return nil, fmt.Errorf("failed to create filing: %w", err)
	}
	return newSession(repo, f, sc, opts), nil
}

// Open resumes a stored filing at its saved progress.
func Open(ctx context.Context, repo store.Repository, schemas *schema.Store, filingID string, opts Options) (*Session, error) {
	f, err := repo.GetFiling(ctx, filingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load filing %s: %w", filingID, err)
	}
	sc, err := schemas.Get(f.Year, f.Type)
	if err != nil {
		return nil, err
	}
	return newSession(repo, f, sc, opts), nil
}

func (s *Session) FilingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filing.ID
}

// Filing returns a copy of the session's view of the filing, including
// answers not yet autosaved.
func (s *Session) Filing() *model.Filing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filing.Clone()
}

func (s *Session) Schema() *schema.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sc
}

// State returns the wizard state with the autosave status folded in.
func (s *Session) State() wizard.State {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	st = wizard.Reduce(st, wizard.SetSyncing{Syncing: s.autosave.Syncing()})
	if err := s.autosave.Err(); err != nil {
		st = wizard.Reduce(st, wizard.SetError{Error: err.Error()})
	}
	return st
}

// Start leaves IDLE: an individual filing gets its primary filer, an entity
// filing starts on its single record. A started session is left as is.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase != wizard.PhaseIdle {
		s.mu.Unlock()
		return nil
	}
	f := s.filing
	if f.Type != model.FilingIndividual {
		defer s.mu.Unlock()
		e := f.Entity()
		if e == nil {
			return fmt.Errorf("%s filing %s has no entity record: %w", f.Type, f.ID, store.ErrNotFound)
		}
		var a wizard.Action = wizard.InitCorporateFiling{FilingID: f.ID, PersonalFilingID: e.ID}
		if f.Type == model.FilingTrust {
			a = wizard.InitTrustFiling{FilingID: f.ID, PersonalFilingID: e.ID}
		}
		if err := s.dispatchLocked(a); err != nil {
			return err
		}
		return s.saveProgressLocked(ctx)
	}
	s.mu.Unlock()

	primary, err := s.CreatePrimary(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != wizard.PhaseIdle {
		return nil
	}
	if err := s.dispatchLocked(wizard.InitFiling{FilingID: s.filing.ID, PersonalFilingID: primary.ID}); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

// CreatePrimary returns the filing's primary filer, creating it once however
// many callers ask at the same time.
func (s *Session) CreatePrimary(ctx context.Context) (*model.PersonalFiling, error) {
	s.mu.Lock()
	if p := s.filing.FirstOfType(model.RolePrimary); p != nil {
		out := *p
		s.mu.Unlock()
		return &out, nil
	}
	filingID := s.filing.ID
	s.mu.Unlock()

	p, err := s.createPerson(ctx, filingID, model.RolePrimary, "create-primary")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adoptLocked(p)
	return p, nil
}

// Dispatch applies a wizard action directly. Actions the current phase does
// not define return ErrInvalidTransition.
func (s *Session) Dispatch(a wizard.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(a)
}

func (s *Session) dispatchLocked(a wizard.Action) error {
	if !wizard.Allowed(s.state, a) {
		s.metrics.Action(string(a.Type()), false)
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, a.Type(), s.state.Phase)
	}
	s.state = wizard.Reduce(s.state, a)
	s.metrics.Action(string(a.Type()), true)
	return nil
}

// Sections lists the sections the current filer sees for their answers.
func (s *Session) Sections() []questions.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return questions.SectionsForRole(s.sc, s.state.Phase.Role(), s.answersLocked())
}

// CurrentSection returns the section at the wizard's index, false when the
// wizard is not in an active phase.
func (s *Session) CurrentSection() (questions.Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSectionLocked()
}

func (s *Session) currentSectionLocked() (questions.Section, bool) {
	if !s.state.Phase.Active() {
		return questions.Section{}, false
	}
	sections := questions.SectionsForRole(s.sc, s.state.Phase.Role(), s.answersLocked())
	i := s.state.CurrentSectionIndex
	if i < 0 || i >= len(sections) {
		return questions.Section{}, false
	}
	return sections[i], true
}

// Progress reports per-section completion for the current filer.
func (s *Session) Progress() []questions.SectionProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.answersLocked()
	return questions.Progress(questions.SectionsForRole(s.sc, s.state.Phase.Role(), data), data)
}

// SetField sets an answer of the current filer and removes, before
// returning, every answer the change hid. The resulting changes are queued
// for autosave. It returns the cleared field names.
func (s *Session) SetField(field string, value any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.Editable(s.filing.Status) {
		return nil, fmt.Errorf("filing %s is %s: %w", s.filing.ID, s.filing.Status, store.ErrSubmitted)
	}
	recordID := s.state.CurrentPersonalFilingID
	before, ok := s.filing.Answers(recordID)
	if !s.state.Phase.Active() || !ok {
		return nil, ErrNoActiveRecord
	}

	after, cleared := questions.ApplyChange(s.sc, s.state.Phase.Role(), before, field, value)
	s.filing.SetAnswers(recordID, after)
	s.autosave.Queue(recordID, jsonpatch.FormDataChanges(before, after))
	s.metrics.FieldsCleared(len(cleared))

	if len(cleared) > 0 {
		s.logger.Debug("Cleared hidden answers",
			zap.String("field", field),
			zap.Strings("cleared", cleared))
	}
	if cleared == nil {
		cleared = []string{}
	}
	return cleared, nil
}

// ValidateSection validates the current section.
func (s *Session) ValidateSection() (questions.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.currentSectionLocked()
	if !ok {
		return questions.Result{}, ErrNoActiveRecord
	}
	return questions.ValidateSection(sec, s.answersLocked(), s.sc.Questions), nil
}

// ValidateCurrentPhase validates every section the current filer sees.
func (s *Session) ValidateCurrentPhase() questions.RoleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return questions.ValidateAllSectionsForRole(s.sc, s.state.Phase.Role(), s.answersLocked())
}

// NextSection moves past the current section when its answers are valid,
// marking its step complete. An invalid section is returned with the wizard
// left where it was.
func (s *Session) NextSection(ctx context.Context) (questions.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.currentSectionLocked()
	if !ok {
		return questions.Result{}, ErrNoActiveRecord
	}
	res := questions.ValidateSection(sec, s.answersLocked(), s.sc.Questions)
	if !res.IsValid {
		return res, nil
	}

	count := len(questions.SectionsForRole(s.sc, s.state.Phase.Role(), s.answersLocked()))
	if err := s.dispatchLocked(wizard.NextSection{SectionCount: count}); err != nil {
		return res, err
	}
	s.state = wizard.Reduce(s.state, wizard.MarkStepComplete{StepID: sec.Step.ID})

	if err := s.autosave.Flush(ctx); err != nil {
		return res, err
	}
	return res, s.saveProgressLocked(ctx)
}

func (s *Session) PrevSection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dispatchLocked(wizard.PrevSection{}); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

// GoToSection jumps to a visible section by index.
func (s *Session) GoToSection(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(questions.SectionsForRole(s.sc, s.state.Phase.Role(), s.answersLocked()))
	if index < 0 || index >= count {
		return fmt.Errorf("%w: %d of %d", ErrSectionOutOfRange, index, count)
	}
	if err := s.dispatchLocked(wizard.GoToSection{Index: index}); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

// CompleteCurrentPhase finishes the current filer: every visible section must
// validate, pending answers are written, and the record is marked complete
// before the wizard moves on.
func (s *Session) CompleteCurrentPhase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !wizard.Allowed(s.state, wizard.CompletePhase{}) {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, wizard.TypeCompletePhase, s.state.Phase)
	}
	role := s.state.Phase.Role()
	res := questions.ValidateAllSectionsForRole(s.sc, role, s.answersLocked())
	if !res.IsValid {
		return &ValidationError{Role: role, Result: res}
	}

	if err := s.autosave.Flush(ctx); err != nil {
		return err
	}
	recordID := s.state.CurrentPersonalFilingID
	if err := s.repo.MarkComplete(ctx, recordID); err != nil {
		return fmt.Errorf("failed to mark %s complete: %w", recordID, err)
	}
	s.markCompleteLocked(recordID)

	if err := s.dispatchLocked(wizard.CompletePhase{}); err != nil {
		return err
	}
	s.logger.Info("Phase completed", zap.String("role", string(role)), zap.String("phase", string(s.state.Phase)))
	return s.saveProgressLocked(ctx)
}

// AddSpouse creates the spouse filing and starts entering it. Concurrent
// calls share one creation.
func (s *Session) AddSpouse(ctx context.Context) (*model.PersonalFiling, error) {
	return s.addPerson(ctx, wizard.StartSpouse{}, model.RoleSpouse, "add-spouse", func(p *model.PersonalFiling) error {
		return s.dispatchLocked(wizard.StartSpouse{PersonalFilingID: p.ID})
	})
}

// AddDependent creates a dependent filing and starts entering it.
// Concurrent calls share one creation.
func (s *Session) AddDependent(ctx context.Context) (*model.PersonalFiling, error) {
	return s.addPerson(ctx, wizard.AddDependent{}, model.RoleDependent, "add-dependent", func(p *model.PersonalFiling) error {
		if err := s.dispatchLocked(wizard.AddDependent{}); err != nil {
			return err
		}
		index := len(s.filing.Dependents()) - 1
		return s.dispatchLocked(wizard.StartDependent{PersonalFilingID: p.ID, Index: index})
	})
}

// addPerson creates a personal filing and hands it to start under s.mu.
// Callers arriving while a creation for the same operation is in flight wait
// for it and get its result; the creation stays in flight until start has
// moved the wizard on.
func (s *Session) addPerson(ctx context.Context, a wizard.Action, role model.Role, operation string, start func(*model.PersonalFiling) error) (*model.PersonalFiling, error) {
	c, leader, filingID, err := s.beginCreate(operation, a)
	if err != nil {
		return nil, err
	}
	if !leader {
		s.metrics.GuardShared(operation)
		select {
		case <-c.done:
			return c.result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p, err := s.createPerson(ctx, filingID, role, operation)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.adoptLocked(p)
		if err = start(p); err == nil {
			err = s.saveProgressLocked(ctx)
		}
	}
	s.endCreateLocked(operation, c, p, err)
	return c.result()
}

// StartDependent reopens an existing dependent by position.
func (s *Session) StartDependent(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps := s.filing.Dependents()
	if index < 0 || index >= len(deps) {
		return fmt.Errorf("dependent %d: %w", index, store.ErrNotFound)
	}
	if err := s.dispatchLocked(wizard.StartDependent{PersonalFilingID: deps[index].ID, Index: index}); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

func (s *Session) SkipSpouse(ctx context.Context) error {
	return s.move(ctx, wizard.SkipSpouse{})
}

func (s *Session) SkipDependents(ctx context.Context) error {
	return s.move(ctx, wizard.SkipDependents{})
}

func (s *Session) GoToReview(ctx context.Context) error {
	return s.move(ctx, wizard.GoToReview{})
}

func (s *Session) move(ctx context.Context, a wizard.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dispatchLocked(a); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

// SaveAndExit writes pending answers and the resume point.
func (s *Session) SaveAndExit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.autosave.Flush(ctx); err != nil {
		return err
	}
	return s.saveProgressLocked(ctx)
}

// Price computes the filing's current price.
func (s *Session) Price() pricing.Breakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priceLocked()
}

func (s *Session) priceLocked() pricing.Breakdown {
	b := pricing.Calculate(s.filing, s.sc, s.fees)
	if b.Mode == pricing.ModeLegacy {
		s.logger.Warn("Schema has no pricing, using legacy fees", zap.Int("year", s.filing.Year))
	}
	s.metrics.Pricing(string(b.Mode))
	return b
}

// Submit writes pending answers, prices the filing and submits it. It is
// only possible from REVIEW; the session is reset afterwards.
func (s *Session) Submit(ctx context.Context) (*model.Filing, pricing.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != wizard.PhaseReview {
		return nil, pricing.Breakdown{}, fmt.Errorf("%w: phase is %s", ErrNotInReview, s.state.Phase)
	}
	if err := s.autosave.Flush(ctx); err != nil {
		return nil, pricing.Breakdown{}, err
	}

	b := s.priceLocked()
	f, err := s.repo.Submit(ctx, s.filing.ID, b.Total)
	s.metrics.Submission(string(s.filing.Type), err)
	if err != nil {
		return nil, b, fmt.Errorf("failed to submit filing %s: %w", s.filing.ID, err)
	}

	s.filing = f.Clone()
	s.state = wizard.Reduce(s.state, wizard.Reset{})
	s.logger.Info("Filing submitted",
		zap.String("reference_number", f.ReferenceNumber),
		zap.Float64("total", b.Total))
	return f, b, nil
}

// Close writes pending answers and stops the autosave timer.
func (s *Session) Close(ctx context.Context) error {
	return s.autosave.Close(ctx)
}

// creation is a person creation in flight. done is closed once p and err
// are final.
type creation struct {
	done    chan struct{}
	waiters int
	p       *model.PersonalFiling
	err     error
}

func (c *creation) result() (*model.PersonalFiling, error) {
	if c.p == nil {
		return nil, c.err
	}
	out := *c.p
	out.FormData = c.p.FormData.Clone()
	return &out, c.err
}

// beginCreate joins the operation's creation in flight, or checks that a is
// allowed now and starts a new one with the session marked loading.
func (s *Session) beginCreate(operation string, a wizard.Action) (*creation, bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creating[operation]; ok {
		c.waiters++
		return c, false, s.filing.ID, nil
	}
	if !wizard.Allowed(s.state, a) {
		return nil, false, "", fmt.Errorf("%w: %s in %s", ErrInvalidTransition, a.Type(), s.state.Phase)
	}
	if s.creating == nil {
		s.creating = make(map[string]*creation)
	}
	c := &creation{done: make(chan struct{})}
	s.creating[operation] = c
	s.state = wizard.Reduce(s.state, wizard.SetLoading{Loading: true})
	return c, true, s.filing.ID, nil
}

func (s *Session) endCreateLocked(operation string, c *creation, p *model.PersonalFiling, err error) {
	c.p, c.err = p, err
	delete(s.creating, operation)
	if len(s.creating) == 0 {
		s.state = wizard.Reduce(s.state, wizard.SetLoading{Loading: false})
	}
	close(c.done)
}

func (s *Session) createPerson(ctx context.Context, filingID string, role model.Role, operation string) (*model.PersonalFiling, error) {
	p, shared, err := guarded(s.guard, filingID, operation, func() (*model.PersonalFiling, error) {
		return s.repo.CreatePersonalFiling(ctx, filingID, role)
	})
	if shared {
		s.metrics.GuardShared(operation)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s filing: %w", role, err)
	}
	out := *p
	out.FormData = p.FormData.Clone()
	return &out, nil
}

// adoptLocked adds p to the filing unless it is already there.
func (s *Session) adoptLocked(p *model.PersonalFiling) {
	if s.filing.Person(p.ID) != nil {
		return
	}
	rec := *p
	rec.FormData = p.FormData.Clone()
	s.filing.PersonalFilings = append(s.filing.PersonalFilings, rec)
	if s.filing.Status == model.StatusDraft {
		s.filing.Status = model.StatusInProgress
	}
}

func (s *Session) markCompleteLocked(recordID string) {
	if e := s.filing.Entity(); e != nil && e.ID == recordID {
		e.IsComplete = true
		return
	}
	if p := s.filing.Person(recordID); p != nil {
		p.IsComplete = true
	}
}

func (s *Session) answersLocked() model.FormData {
	data, _ := s.filing.Answers(s.state.CurrentPersonalFilingID)
	return data
}

func (s *Session) saveProgressLocked(ctx context.Context) error {
	p := s.state.Progress()
	if err := s.repo.SaveProgress(ctx, s.filing.ID, p); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	s.filing.WizardProgress = &p
	return nil
}
