// Package storetest holds the behaviour every store.Repository adapter must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filing-engine/internal/model"
	"filing-engine/internal/store"
)

// Run exercises repo through a full individual and corporate filing.
func Run(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("individual", func(t *testing.T) {
		f, err := repo.CreateFiling(ctx, 2024, model.FilingIndividual)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDraft, f.Status)

		primary, err := repo.CreatePersonalFiling(ctx, f.ID, model.RolePrimary)
		require.NoError(t, err)
		_, err = repo.CreatePersonalFiling(ctx, f.ID, model.RolePrimary)
		assert.ErrorIs(t, err, store.ErrInvalidInput)

		spouse, err := repo.CreatePersonalFiling(ctx, f.ID, model.RoleSpouse)
		require.NoError(t, err)
		_, err = repo.CreatePersonalFiling(ctx, f.ID, model.RoleDependent)
		require.NoError(t, err)
		_, err = repo.CreatePersonalFiling(ctx, f.ID, model.RoleDependent)
		require.NoError(t, err)

		require.NoError(t, repo.SaveFormData(ctx, primary.ID, model.FormData{
			"personalInfo.firstName": "Ada",
			"marital.status":         "MARRIED",
			"income.sources":         []any{"EMPLOYMENT"},
		}))
		require.NoError(t, repo.SaveFormData(ctx, primary.ID, model.FormData{
			"marital.status": nil,
			"income.amount":  float64(52000),
		}))
		require.NoError(t, repo.MarkComplete(ctx, primary.ID))

		idx := 1
		require.NoError(t, repo.SaveProgress(ctx, f.ID, model.WizardProgress{
			LastPhase:            "DEPENDENT_ACTIVE",
			LastSectionIndex:     3,
			LastPersonalFilingID: spouse.ID,
			LastDependentIndex:   &idx,
		}))

		got, err := repo.GetFiling(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInProgress, got.Status)
		require.Len(t, got.PersonalFilings, 4)
		assert.Len(t, got.Dependents(), 2)
		assert.NoError(t, got.CheckInvariants())

		p := got.Person(primary.ID)
		require.NotNil(t, p)
		assert.True(t, p.IsComplete)
		assert.Equal(t, model.FormData{
			"personalInfo.firstName": "Ada",
			"income.sources":         []any{"EMPLOYMENT"},
			"income.amount":          float64(52000),
		}, p.FormData)
		assert.Equal(t, "Ada", p.DisplayName())

		require.NotNil(t, got.WizardProgress)
		assert.Equal(t, "DEPENDENT_ACTIVE", got.WizardProgress.LastPhase)
		require.NotNil(t, got.WizardProgress.LastDependentIndex)
		assert.Equal(t, 1, *got.WizardProgress.LastDependentIndex)

		submitted, err := repo.Submit(ctx, f.ID, 423.73)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSubmitted, submitted.Status)
		require.NotNil(t, submitted.TotalPrice)
		assert.Equal(t, 423.73, *submitted.TotalPrice)
		assert.Regexp(t, `^TX2024-[0-9A-F]{10}$`, submitted.ReferenceNumber)

		_, err = repo.Submit(ctx, f.ID, 1)
		assert.ErrorIs(t, err, store.ErrSubmitted)
		assert.ErrorIs(t, repo.SaveFormData(ctx, primary.ID, model.FormData{"x": "y"}), store.ErrSubmitted)
	})

	t.Run("corporate", func(t *testing.T) {
		f, err := repo.CreateFiling(ctx, 2024, model.FilingCorporate)
		require.NoError(t, err)
		require.NotNil(t, f.Corporate)
		assert.Nil(t, f.Trust)

		_, err = repo.CreatePersonalFiling(ctx, f.ID, model.RolePrimary)
		assert.ErrorIs(t, err, store.ErrInvalidInput)

		require.NoError(t, repo.SaveFormData(ctx, f.Corporate.ID, model.FormData{"corporation.legalName": "Acme Ltd"}))
		require.NoError(t, repo.MarkComplete(ctx, f.Corporate.ID))

		got, err := repo.GetFiling(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Corporate)
		assert.True(t, got.Corporate.IsComplete)
		assert.Equal(t, "Acme Ltd", got.Corporate.DisplayName())
		assert.Empty(t, got.PersonalFilings)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repo.GetFiling(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, repo.SaveFormData(ctx, "nope", model.FormData{}), store.ErrNotFound)
		assert.ErrorIs(t, repo.MarkComplete(ctx, "nope"), store.ErrNotFound)
		assert.ErrorIs(t, repo.SaveProgress(ctx, "nope", model.WizardProgress{}), store.ErrNotFound)
		_, err = repo.CreatePersonalFiling(ctx, "nope", model.RoleSpouse)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.CreateFiling(ctx, 2024, "PARTNERSHIP")
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})
}
