// Package engine runs wizard sessions: it keeps a filing's answers, wizard
// state and schema together, clears stale answers, autosaves, and submits.
// Process is the stateless batch form used by the action endpoint.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
	"filing-engine/internal/wizard"
)

// Message codes reported by Process.
const (
	CodeUnknownAction      = "UNKNOWN_ACTION"
	CodeInvalidProps       = "INVALID_PROPS"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeFilingTypeMismatch = "FILING_TYPE_MISMATCH"
)

// Process restores the wizard state from req.Progress and applies each
// action in order. Actions the current phase does not define are reported
// and skipped; an unknown or undecodable action stops the run.
func Process(req *model.ActionRequest, m *metrics.Metrics) *model.ActionResponse {
	start := time.Now()

	state := wizard.FromProgress(req.FilingID, req.Progress, req.TotalDependents)

	messages := []model.Message{}
	processed := []model.ProcessedAction{}
	outcome := model.OutcomeSuccess

	add := func(level, code, text string) int {
		id := len(messages)
		messages = append(messages, model.Message{ID: id, Level: level, Code: code, Message: text})
		return id
	}

	for _, call := range req.Actions {
		action, err := wizard.Decode(call.Type, call.Props)
		if err != nil {
			code := CodeInvalidProps
			if errors.Is(err, wizard.ErrUnknownAction) {
				code = CodeUnknownAction
			}
			id := add(model.LevelCritical, code, err.Error())
			processed = append(processed, model.ProcessedAction{Action: call, MessageIndexes: []int{id}})
			outcome = model.OutcomeFailure
			break
		}

		if msg := filingTypeMismatch(state, action, req.FilingType); msg != "" {
			id := add(model.LevelWarning, CodeFilingTypeMismatch, msg)
			processed = append(processed, model.ProcessedAction{Action: call, MessageIndexes: []int{id}})
			m.Action(call.Type, false)
			continue
		}

		if !wizard.Allowed(state, action) {
			id := add(model.LevelWarning, CodeInvalidTransition,
				fmt.Sprintf("%s is not allowed in phase %s", call.Type, state.Phase))
			processed = append(processed, model.ProcessedAction{Action: call, MessageIndexes: []int{id}})
			m.Action(call.Type, false)
			continue
		}

		state = wizard.Reduce(state, action)
		processed = append(processed, model.ProcessedAction{Action: call, Applied: true})
		m.Action(call.Type, true)
	}

	elapsed := time.Since(start)
	now := time.Now().UTC()

	return &model.ActionResponse{
		Metadata: model.ActionMetadata{
			ProcessID:   uuid.New().String(),
			FilingID:    req.FilingID,
			StartedAt:   now.Add(-elapsed).Format(time.RFC3339),
			CompletedAt: now.Format(time.RFC3339),
			DurationMs:  elapsed.Milliseconds(),
			Outcome:     outcome,
		},
		Result: model.ActionResult{
			Messages:    messages,
			Actions:     processed,
			EndState:    state,
			EndProgress: state.Progress(),
		},
	}
}

// filingTypeMismatch reports an init action that would start a different kind
// of filing than the request names.
func filingTypeMismatch(s wizard.State, a wizard.Action, ft model.FilingType) string {
	if ft == "" {
		return ""
	}
	switch a.(type) {
	case wizard.InitFiling, wizard.InitCorporateFiling, wizard.InitTrustFiling:
	default:
		return ""
	}
	to, ok := wizard.Next(s, a)
	if !ok || to.FilingType() == ft {
		return ""
	}
	return fmt.Sprintf("%s starts a %s filing, request is for %s", a.Type(), to.FilingType(), ft)
}
