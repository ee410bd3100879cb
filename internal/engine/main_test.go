package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
	"filing-engine/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func yesNo() []schema.Option {
	return []schema.Option{{Value: "YES"}, {Value: "NO"}}
}

func individualSchema() *schema.Schema {
	rate := 0.13
	rental := conditional.Clause{ParentQuestionID: "income.hasRental", Operator: conditional.Equals, Value: "YES"}
	return &schema.Schema{
		Year:       2024,
		FilingType: model.FilingIndividual,
		Steps: []schema.Step{
			{ID: "personal", Title: "Personal", Order: 1},
			{ID: "income", Title: "Income", Order: 2},
			{ID: "rental", Title: "Rental", Order: 3, VisibleForRoles: []model.Role{model.RolePrimary, model.RoleSpouse}, Conditional: &rental},
			{ID: "review", Order: 99},
		},
		Questions: []schema.Question{
			{ID: "name", Name: "personal.name", Type: schema.TypeText, StepID: "personal", Order: 1, Validation: &schema.Validation{Required: true}},
			{ID: "hasRental", Name: "income.hasRental", Type: schema.TypeRadio, StepID: "income", Order: 1, Options: yesNo()},
			{ID: "address", Name: "rental.address", Type: schema.TypeText, StepID: "rental", Order: 1, Validation: &schema.Validation{Required: true}},
		},
		Pricing: &schema.PricingSchema{
			BaseFee: 149.99,
			TaxRate: &rate,
			Rules: []schema.PricingRule{
				{ID: "rental", Condition: conditional.Conditional{Clause: rental}, Amount: 75, Description: "Rental Income"},
			},
		},
	}
}

func corporateSchema() *schema.Schema {
	return &schema.Schema{
		Year:       2024,
		FilingType: model.FilingCorporate,
		Steps:      []schema.Step{{ID: "corporation", Title: "Corporation", Order: 1}},
		Questions: []schema.Question{
			{ID: "legalName", Name: model.FieldCorporateName, Type: schema.TypeText, StepID: "corporation", Order: 1, Validation: &schema.Validation{Required: true}},
		},
	}
}

func testSchemas(t *testing.T) *schema.Store {
	t.Helper()
	s := schema.NewStore(2024, zap.NewNop())
	require.NoError(t, s.Put(individualSchema()))
	require.NoError(t, s.Put(corporateSchema()))
	return s
}

// spyRepo records writes and can hold person creation until released.
type spyRepo struct {
	*memory.Repository

	mu      sync.Mutex
	saves   []model.FormData
	creates int
	saveErr error
	entered chan struct{}
	release chan struct{}
}

func newSpyRepo() *spyRepo {
	return &spyRepo{Repository: memory.New()}
}

func (r *spyRepo) SaveFormData(ctx context.Context, recordID string, changes model.FormData) error {
	r.mu.Lock()
	err := r.saveErr
	if err == nil {
		r.saves = append(r.saves, changes.Clone())
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.SaveFormData(ctx, recordID, changes)
}

func (r *spyRepo) CreatePersonalFiling(ctx context.Context, filingID string, role model.Role) (*model.PersonalFiling, error) {
	r.mu.Lock()
	r.creates++
	entered, release := r.entered, r.release
	r.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return r.Repository.CreatePersonalFiling(ctx, filingID, role)
}

func (r *spyRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func newManager(t *testing.T, repo *spyRepo, delay time.Duration) *Manager {
	t.Helper()
	m := NewManager(repo, testSchemas(t), Options{AutosaveDelay: delay})
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m
}
