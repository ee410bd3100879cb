package engine

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
	"filing-engine/internal/wizard"
)

func calls(types ...string) []model.ActionCall {
	out := make([]model.ActionCall, len(types))
	for i, t := range types {
		out[i] = model.ActionCall{ActionID: t, Type: t}
	}
	return out
}

func TestProcessWalksIndividualFiling(t *testing.T) {
	req := &model.ActionRequest{
		FilingID: "f-1",
		Actions: append([]model.ActionCall{{
			Type:  "INIT_FILING",
			Props: json.RawMessage(`{"filingId":"f-1","personalFilingId":"p-1"}`),
		}}, calls("COMPLETE_PHASE", "GO_TO_REVIEW", "SKIP_SPOUSE", "SKIP_DEPENDENTS")...),
	}

	m := metrics.New()
	resp := Process(req, m)

	assert.Equal(t, model.OutcomeSuccess, resp.Metadata.Outcome)
	assert.Equal(t, "f-1", resp.Metadata.FilingID)
	assert.NotEmpty(t, resp.Metadata.ProcessID)

	require.Len(t, resp.Result.Messages, 1)
	assert.Equal(t, CodeInvalidTransition, resp.Result.Messages[0].Code)
	assert.Equal(t, model.LevelWarning, resp.Result.Messages[0].Level)

	require.Len(t, resp.Result.Actions, 5)
	applied := make([]bool, len(resp.Result.Actions))
	for i, a := range resp.Result.Actions {
		applied[i] = a.Applied
	}
	assert.Equal(t, []bool{true, true, false, true, true}, applied)
	assert.Equal(t, []int{0}, resp.Result.Actions[2].MessageIndexes)

	end, ok := resp.Result.EndState.(wizard.State)
	require.True(t, ok)
	assert.Equal(t, wizard.PhaseReview, end.Phase)
	assert.Equal(t, "REVIEW", resp.Result.EndProgress.LastPhase)
}

func TestProcessResumesFromProgress(t *testing.T) {
	idx := 1
	req := &model.ActionRequest{
		FilingID:        "f-1",
		TotalDependents: 2,
		Progress: &model.WizardProgress{
			LastPhase:            "DEPENDENT_ACTIVE",
			LastSectionIndex:     3,
			LastPersonalFilingID: "d-2",
			LastDependentIndex:   &idx,
		},
		Actions: calls("PREV_SECTION"),
	}

	resp := Process(req, nil)
	end := resp.Result.EndState.(wizard.State)
	assert.Equal(t, wizard.PhaseDependentActive, end.Phase)
	assert.Equal(t, 2, end.CurrentSectionIndex)
	assert.Equal(t, 1, end.CurrentDependentIndex)
	require.NotNil(t, resp.Result.EndProgress.LastDependentIndex)
	assert.Equal(t, 1, *resp.Result.EndProgress.LastDependentIndex)
}

func TestProcessStopsOnUnknownAction(t *testing.T) {
	req := &model.ActionRequest{Actions: calls("INIT_FILING", "JUMP_TO_PAYMENT", "COMPLETE_PHASE")}

	resp := Process(req, nil)
	assert.Equal(t, model.OutcomeFailure, resp.Metadata.Outcome)
	require.Len(t, resp.Result.Actions, 2)
	require.Len(t, resp.Result.Messages, 1)
	assert.Equal(t, CodeUnknownAction, resp.Result.Messages[0].Code)
	assert.Equal(t, model.LevelCritical, resp.Result.Messages[0].Level)
	assert.Equal(t, wizard.PhasePrimaryActive, resp.Result.EndState.(wizard.State).Phase)
}

func TestProcessRejectsBadProps(t *testing.T) {
	req := &model.ActionRequest{Actions: []model.ActionCall{
		{Type: "GO_TO_SECTION", Props: json.RawMessage(`{"index":"two"}`)},
	}}

	resp := Process(req, nil)
	assert.Equal(t, model.OutcomeFailure, resp.Metadata.Outcome)
	require.Len(t, resp.Result.Messages, 1)
	assert.Equal(t, CodeInvalidProps, resp.Result.Messages[0].Code)
}

func TestProcessFilingTypeMismatch(t *testing.T) {
	req := &model.ActionRequest{
		FilingType: model.FilingTrust,
		Actions:    calls("INIT_CORPORATE_FILING", "INIT_TRUST_FILING", "COMPLETE_TRUST"),
	}

	resp := Process(req, nil)
	assert.Equal(t, model.OutcomeSuccess, resp.Metadata.Outcome)
	require.Len(t, resp.Result.Messages, 1)
	assert.Equal(t, CodeFilingTypeMismatch, resp.Result.Messages[0].Code)
	assert.False(t, resp.Result.Actions[0].Applied)
	assert.Equal(t, wizard.PhaseReview, resp.Result.EndState.(wizard.State).Phase)
}

func TestProcessEmptyLogIsNotNil(t *testing.T) {
	resp := Process(&model.ActionRequest{Actions: calls("RESET")}, nil)
	assert.NotNil(t, resp.Result.Messages)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"messages":[]`)
}
