package questions

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
)

var (
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigitRe = regexp.MustCompile(`\D`)

	patternCache sync.Map // pattern -> *regexp.Regexp, nil for invalid patterns
)

const (
	msgRequired = "This field is required"
	msgEmail    = "Enter a valid email address"
	msgPhone    = "Enter a valid phone number"
	msgNumber   = "Enter a number"
	msgDate     = "Enter a date as YYYY-MM-DD"
	msgPattern  = "The value is not in the expected format"
)

// Result is the outcome of validating one section. Errors is keyed by field
// name, or by questionID_index_fieldName for repeater items.
type Result struct {
	IsValid bool              `json:"isValid"`
	Errors  map[string]string `json:"errors"`
}

// ValidateSection validates the visible questions of a section. allQuestions is
// the schema's full question list, used to resolve YES/NO triggers and
// namespace siblings of file uploads; nil falls back to the section's own questions.
func ValidateSection(sec Section, data model.FormData, allQuestions []schema.Question) Result {
	if allQuestions == nil {
		allQuestions = sec.Questions
	}
	errs := make(map[string]string)

	for _, q := range sec.Questions {
		if !conditional.IsVisible(q.Conditional, data) {
			continue
		}
		if q.Type == schema.TypeRepeater {
			validateRepeater(q, data, errs)
			continue
		}

		value := data[q.Name]
		if isEmpty(value) {
			if isRequired(q, data, allQuestions) {
				errs[q.Name] = requiredMessage(q)
			}
			continue
		}
		if msg := checkFormat(q, value); msg != "" {
			errs[q.Name] = msg
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

func validateRepeater(q schema.Question, data model.FormData, errs map[string]string) {
	items, _ := data[q.Name].([]any)
	if len(items) == 0 {
		if q.Required() {
			errs[q.Name] = requiredMessage(q)
		}
		return
	}

	for i, raw := range items {
		item, _ := raw.(map[string]any)
		view := conditional.WithItem(data, item)
		for _, f := range q.Fields {
			if !conditional.IsVisible(f.Conditional, view) {
				continue
			}
			key := fmt.Sprintf("%s_%d_%s", q.ID, i, f.Name)
			value := item[f.Name]
			if isEmpty(value) {
				if f.Required() || conditionallyRequired(f, view) {
					errs[key] = requiredMessage(f)
				}
				continue
			}
			if msg := checkFormat(f, value); msg != "" {
				errs[key] = msg
			}
		}
	}
}

// isRequired combines the declared flag, conditionalRequired and, for file
// uploads, the requiredness derived from the answers around them.
func isRequired(q schema.Question, data model.FormData, all []schema.Question) bool {
	if q.Required() || conditionallyRequired(q, data) {
		return true
	}
	if q.Type == schema.TypeFile && !q.RenderInline {
		return fileRequired(q, data, all)
	}
	return false
}

func conditionallyRequired(q schema.Question, data model.FormData) bool {
	if q.Validation == nil || q.Validation.ConditionalRequired == nil {
		return false
	}
	return conditional.Match(q.Validation.ConditionalRequired, data)
}

func requiredMessage(q schema.Question) string {
	if q.Validation != nil && q.Validation.Message != "" && q.Validation.Pattern == "" {
		return q.Validation.Message
	}
	return msgRequired
}

// checkFormat runs the type and constraint checks that apply to a present value.
func checkFormat(q schema.Question, value any) string {
	v := q.Validation
	custom := func(def string) string {
		if v != nil && v.Message != "" {
			return v.Message
		}
		return def
	}

	switch q.Type {
	case schema.TypeEmail:
		if s, ok := value.(string); !ok || !emailRe.MatchString(strings.TrimSpace(s)) {
			return custom(msgEmail)
		}
	case schema.TypePhone:
		s, ok := value.(string)
		if !ok {
			return custom(msgPhone)
		}
		digits := nonDigitRe.ReplaceAllString(s, "")
		if len(digits) < 10 || len(digits) > 15 {
			return custom(msgPhone)
		}
	case schema.TypeNumber:
		n, ok := conditional.ToNumber(value)
		if !ok {
			return custom(msgNumber)
		}
		if v != nil && v.Min != nil && n < *v.Min {
			return fmt.Sprintf("Must be at least %g", *v.Min)
		}
		if v != nil && v.Max != nil && n > *v.Max {
			return fmt.Sprintf("Must be at most %g", *v.Max)
		}
	case schema.TypeDate:
		s, ok := value.(string)
		if !ok {
			return custom(msgDate)
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return custom(msgDate)
		}
	}

	if v == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		if v.MinLength != nil && len([]rune(s)) < *v.MinLength {
			return fmt.Sprintf("Must be at least %d characters", *v.MinLength)
		}
		if v.MaxLength != nil && len([]rune(s)) > *v.MaxLength {
			return fmt.Sprintf("Must be at most %d characters", *v.MaxLength)
		}
		if v.Pattern != "" {
			if re := compiled(v.Pattern); re != nil && !re.MatchString(s) {
				return custom(msgPattern)
			}
		}
	}
	return ""
}

// compiled returns the cached regexp for a schema pattern. Invalid patterns
// yield nil and are not enforced.
func compiled(pattern string) *regexp.Regexp {
	if cached, ok := patternCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		patternCache.Store(pattern, (*regexp.Regexp)(nil))
		return nil
	}
	patternCache.Store(pattern, re)
	return re
}

// isEmpty treats nil, blank strings and empty collections as unanswered.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// SectionErrors groups the failures of one section for display.
type SectionErrors struct {
	Label  string            `json:"label"`
	Errors map[string]string `json:"errors"`
}

// RoleResult is the union of every section's validation for a role.
type RoleResult struct {
	IsValid   bool                     `json:"isValid"`
	Errors    map[string]string        `json:"errors"`
	BySection map[string]SectionErrors `json:"bySection"`
	Count     int                      `json:"count"`
}

// ValidateAllSectionsForRole validates every section the role currently sees.
// A phase may be completed only when the result is valid.
func ValidateAllSectionsForRole(sc *schema.Schema, role model.Role, data model.FormData) RoleResult {
	res := RoleResult{
		Errors:    make(map[string]string),
		BySection: make(map[string]SectionErrors),
	}
	if sc == nil {
		res.IsValid = true
		return res
	}

	for _, sec := range SectionsForRole(sc, role, data) {
		r := ValidateSection(sec, data, sc.Questions)
		if r.IsValid {
			continue
		}
		label := sec.Step.Title
		if label == "" {
			label = sec.Step.ID
		}
		res.BySection[sec.Step.ID] = SectionErrors{Label: label, Errors: r.Errors}
		for k, msg := range r.Errors {
			res.Errors[k] = msg
		}
	}
	res.Count = len(res.Errors)
	res.IsValid = res.Count == 0
	return res
}
