package model

type ActionResponse struct {
	Metadata ActionMetadata `json:"metadata"`
	Result   ActionResult   `json:"result"`
}

type ActionMetadata struct {
	ProcessID   string `json:"process_id"`
	FilingID    string `json:"filing_id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	DurationMs  int64  `json:"duration_ms"`
	Outcome     string `json:"outcome"`
}

type ActionResult struct {
	Messages    []Message         `json:"messages"`
	Actions     []ProcessedAction `json:"actions"`
	EndState    any               `json:"end_state"`
	EndProgress WizardProgress    `json:"end_progress"`
}

type ProcessedAction struct {
	Action         ActionCall `json:"action"`
	Applied        bool       `json:"applied"`
	MessageIndexes []int      `json:"message_indexes,omitempty"`
}

type FieldsToClearResponse struct {
	Fields []string `json:"fields"`
}

type SetFieldResponse struct {
	Cleared []string `json:"cleared"`
}

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)
