package engine

import (
	"errors"
	"fmt"

	"filing-engine/internal/model"
	"filing-engine/internal/questions"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in current phase")
	ErrNotInReview       = errors.New("filing can only be submitted from review")
	ErrNoActiveRecord    = errors.New("no filer is being edited")
	ErrSectionOutOfRange = errors.New("section index out of range")
	ErrSessionNotFound   = errors.New("session not found")
)

// ValidationError blocks completing a phase while any visible section has
// invalid answers.
type ValidationError struct {
	Role   model.Role
	Result questions.RoleResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s answers have %d invalid field(s) in %d section(s)",
		e.Role, e.Result.Count, len(e.Result.BySection))
}
