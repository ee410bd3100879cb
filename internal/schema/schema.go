// Package schema holds the declarative tax-filing schemas: ordered steps,
// ordered questions with their visibility and validation rules, and the
// pricing rule list, keyed by tax year and filing type.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
)

type QuestionType string

const (
	TypeText     QuestionType = "text"
	TypeEmail    QuestionType = "email"
	TypePhone    QuestionType = "phone"
	TypeNumber   QuestionType = "number"
	TypeDate     QuestionType = "date"
	TypeSelect   QuestionType = "select"
	TypeRadio    QuestionType = "radio"
	TypeCheckbox QuestionType = "checkbox"
	TypeFile     QuestionType = "file"
	TypeRepeater QuestionType = "repeater"
	TypeTextarea QuestionType = "textarea"
)

// Step ids that never render as wizard sections.
const (
	StepSetup   = "setup"
	StepReview  = "review"
	StepPayment = "payment"
)

type Schema struct {
	Year       int              `json:"year" yaml:"year"`
	FilingType model.FilingType `json:"filingType" yaml:"filingType"`
	Version    string           `json:"version,omitempty" yaml:"version,omitempty"`
	Steps      []Step           `json:"steps" yaml:"steps"`
	Questions  []Question       `json:"questions" yaml:"questions"`
	Pricing    *PricingSchema   `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

type Step struct {
	ID                 string              `json:"id" yaml:"id"`
	Title              string              `json:"title" yaml:"title"`
	Order              int                 `json:"order" yaml:"order"`
	VisibleForRoles    []model.Role        `json:"visibleForRoles,omitempty" yaml:"visibleForRoles,omitempty"`
	Conditional        *conditional.Clause `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	AnyQuestionVisible bool                `json:"anyQuestionVisible,omitempty" yaml:"anyQuestionVisible,omitempty"`
}

// AppliesTo reports whether the step is shown to role. No roles means every role.
func (s Step) AppliesTo(role model.Role) bool {
	return rolesInclude(s.VisibleForRoles, role)
}

// Structural reports whether the step is a setup, review or payment page rather than a question section.
func (s Step) Structural() bool {
	switch s.ID {
	case StepSetup, StepReview, StepPayment:
		return true
	}
	return false
}

type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

type Validation struct {
	Required            bool                     `json:"required,omitempty" yaml:"required,omitempty"`
	Pattern             string                   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min                 *float64                 `json:"min,omitempty" yaml:"min,omitempty"`
	Max                 *float64                 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength           *int                     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength           *int                     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Message             string                   `json:"message,omitempty" yaml:"message,omitempty"`
	ConditionalRequired *conditional.Conditional `json:"conditionalRequired,omitempty" yaml:"conditionalRequired,omitempty"`
}

type Question struct {
	ID              string                   `json:"id" yaml:"id"`
	Name            string                   `json:"name" yaml:"name"`
	Label           string                   `json:"label,omitempty" yaml:"label,omitempty"`
	Type            QuestionType             `json:"type" yaml:"type"`
	StepID          string                   `json:"stepId,omitempty" yaml:"stepId,omitempty"`
	Order           int                      `json:"order" yaml:"order"`
	VisibleForRoles []model.Role             `json:"visibleForRoles,omitempty" yaml:"visibleForRoles,omitempty"`
	Conditional     *conditional.Conditional `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Validation      *Validation              `json:"validation,omitempty" yaml:"validation,omitempty"`
	Options         []Option                 `json:"options,omitempty" yaml:"options,omitempty"`
	Fields          []Question               `json:"fields,omitempty" yaml:"fields,omitempty"`
	RenderInline    bool                     `json:"renderInline,omitempty" yaml:"renderInline,omitempty"`
}

func (q Question) AppliesTo(role model.Role) bool {
	return rolesInclude(q.VisibleForRoles, role)
}

func (q Question) Required() bool {
	return q.Validation != nil && q.Validation.Required
}

// Namespace is the dot prefix of the question name: "rental" for "rental.receipts".
func (q Question) Namespace() string {
	i := strings.LastIndex(q.Name, ".")
	if i <= 0 {
		return ""
	}
	return q.Name[:i]
}

// IsYesNo reports whether the question is answered with a YES/NO choice.
func (q Question) IsYesNo() bool {
	if q.Type != TypeRadio && q.Type != TypeSelect {
		return false
	}
	if len(q.Options) != 2 {
		return false
	}
	var yes, no bool
	for _, o := range q.Options {
		switch strings.ToUpper(o.Value) {
		case "YES":
			yes = true
		case "NO":
			no = true
		}
	}
	return yes && no
}

type PricingRule struct {
	ID          string                  `json:"id,omitempty" yaml:"id,omitempty"`
	Condition   conditional.Conditional `json:"condition" yaml:"condition"`
	Amount      float64                 `json:"amount" yaml:"amount"`
	Description string                  `json:"description" yaml:"description"`
}

type PricingSchema struct {
	BaseFee  float64       `json:"baseFee" yaml:"baseFee"`
	Currency string        `json:"currency,omitempty" yaml:"currency,omitempty"`
	TaxRate  *float64      `json:"taxRate,omitempty" yaml:"taxRate,omitempty"`
	Rules    []PricingRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Question looks a question up by name, falling back to id.
func (s *Schema) Question(ref string) (Question, bool) {
	for _, q := range s.Questions {
		if q.Name == ref {
			return q, true
		}
	}
	for _, q := range s.Questions {
		if q.ID == ref {
			return q, true
		}
	}
	return Question{}, false
}

// Validate checks the structural integrity a schema needs before it can drive a wizard.
func (s *Schema) Validate() error {
	if s.Year <= 0 {
		return fmt.Errorf("schema year %d is invalid", s.Year)
	}
	if _, ok := model.ParseFilingType(string(s.FilingType)); !ok {
		return fmt.Errorf("schema %d has unknown filing type %q", s.Year, s.FilingType)
	}
	steps := make(map[string]bool, len(s.Steps))
	for _, st := range s.Steps {
		if st.ID == "" {
			return fmt.Errorf("schema %d/%s has a step without id", s.Year, s.FilingType)
		}
		if steps[st.ID] {
			return fmt.Errorf("schema %d/%s has duplicate step %q", s.Year, s.FilingType, st.ID)
		}
		steps[st.ID] = true
	}
	names := make(map[string]bool, len(s.Questions))
	for _, q := range s.Questions {
		if q.Name == "" {
			return fmt.Errorf("question %q has no name", q.ID)
		}
		if names[q.Name] {
			return fmt.Errorf("duplicate question name %q", q.Name)
		}
		names[q.Name] = true
		if !steps[q.StepID] {
			return fmt.Errorf("question %q references unknown step %q", q.Name, q.StepID)
		}
		if q.Type == TypeRepeater && len(q.Fields) == 0 {
			return fmt.Errorf("repeater %q has no fields", q.Name)
		}
	}
	return nil
}

// Lint returns non-fatal findings: unknown operators (which evaluate as visible)
// and conditionals pointing at questions the schema does not define.
func (s *Schema) Lint() []string {
	var findings []string
	known := make(map[string]bool, len(s.Questions)*2)
	for _, q := range s.Questions {
		known[q.Name] = true
		known[q.ID] = true
	}

	check := func(where string, c *conditional.Conditional, local map[string]bool) {
		for _, op := range conditional.Unknown(c) {
			findings = append(findings, fmt.Sprintf("%s: unknown operator %q", where, op))
		}
		for _, ref := range c.References() {
			if !known[ref] && !local[ref] {
				findings = append(findings, fmt.Sprintf("%s: conditional references unknown question %q", where, ref))
			}
		}
	}

	for _, st := range s.Steps {
		if st.Conditional != nil {
			check("step "+st.ID, conditional.Single(*st.Conditional), nil)
		}
	}
	for _, q := range s.Questions {
		check("question "+q.Name, q.Conditional, nil)
		if q.Validation != nil {
			check("question "+q.Name+" conditionalRequired", q.Validation.ConditionalRequired, nil)
		}
		local := make(map[string]bool, len(q.Fields))
		for _, f := range q.Fields {
			local[f.Name] = true
			local[f.ID] = true
		}
		for _, f := range q.Fields {
			check("field "+q.Name+"."+f.Name, f.Conditional, local)
		}
	}
	if s.Pricing != nil {
		for i, r := range s.Pricing.Rules {
			check(fmt.Sprintf("pricing rule %d", i), &r.Condition, nil)
		}
	}
	return findings
}

// Normalize sorts steps and questions by order and rewrites conditionals that
// reference a question by id to reference its form-data name, so evaluation
// can read answers directly.
func (s *Schema) Normalize() {
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].Order < s.Steps[j].Order })
	sort.SliceStable(s.Questions, func(i, j int) bool { return s.Questions[i].Order < s.Questions[j].Order })

	byID := make(map[string]string, len(s.Questions))
	for _, q := range s.Questions {
		if q.ID != "" && q.ID != q.Name {
			byID[q.ID] = q.Name
		}
	}
	for i := range s.Questions {
		if s.Questions[i].ID == "" {
			s.Questions[i].ID = s.Questions[i].Name
		}
	}
	if len(byID) == 0 {
		return
	}

	for i := range s.Steps {
		if c := s.Steps[i].Conditional; c != nil {
			rewriteClause(c, byID)
		}
	}
	for i := range s.Questions {
		q := &s.Questions[i]
		rewrite(q.Conditional, byID)
		if q.Validation != nil {
			rewrite(q.Validation.ConditionalRequired, byID)
		}
	}
	if s.Pricing != nil {
		for i := range s.Pricing.Rules {
			rewrite(&s.Pricing.Rules[i].Condition, byID)
		}
	}
}

func rewrite(c *conditional.Conditional, byID map[string]string) {
	if c == nil {
		return
	}
	rewriteClause(&c.Clause, byID)
	for i := range c.And {
		rewriteClause(&c.And[i], byID)
	}
	for i := range c.Or {
		rewriteClause(&c.Or[i], byID)
	}
}

func rewriteClause(c *conditional.Clause, byID map[string]string) {
	if name, ok := byID[c.ParentQuestionID]; ok {
		c.ParentQuestionID = name
	}
}

func rolesInclude(roles []model.Role, role model.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
