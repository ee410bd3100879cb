// Package conditional evaluates the visibility and requiredness predicates
// schema steps, questions and pricing rules carry against a filer's form data.
package conditional

import "filing-engine/internal/model"

// Operator is the closed set of clause operators a schema may use.
type Operator string

const (
	Equals          Operator = "equals"
	NotEquals       Operator = "notEquals"
	NotEqualsStrict Operator = "notEqualsStrict"
	GreaterThan     Operator = "greaterThan"
	In              Operator = "in"
	NotIn           Operator = "notIn"
	Contains        Operator = "contains"
	NotContains     Operator = "notContains"
	HasAny          Operator = "hasAny"
)

// Operators lists every supported operator.
var Operators = []Operator{Equals, NotEquals, NotEqualsStrict, GreaterThan, In, NotIn, Contains, NotContains, HasAny}

// Known reports whether op is one of Operators.
func (op Operator) Known() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Clause is a single predicate over one form field.
type Clause struct {
	ParentQuestionID string   `json:"parentQuestionId" yaml:"parentQuestionId"`
	Operator         Operator `json:"operator" yaml:"operator"`
	Value            any      `json:"value,omitempty" yaml:"value,omitempty"`
	Values           []any    `json:"values,omitempty" yaml:"values,omitempty"`
}

// Conditional is either a single clause or a compound and/or of clauses.
// When And or Or is set the embedded clause is ignored.
type Conditional struct {
	Clause `yaml:",inline"`
	And    []Clause `json:"and,omitempty" yaml:"and,omitempty"`
	Or     []Clause `json:"or,omitempty" yaml:"or,omitempty"`
}

// Single wraps one clause as a Conditional.
func Single(c Clause) *Conditional {
	return &Conditional{Clause: c}
}

// Clauses returns every clause the conditional evaluates.
func (c *Conditional) Clauses() []Clause {
	if c == nil {
		return nil
	}
	switch {
	case len(c.And) > 0:
		return c.And
	case len(c.Or) > 0:
		return c.Or
	case c.ParentQuestionID != "" || c.Operator != "":
		return []Clause{c.Clause}
	}
	return nil
}

// References returns the parent fields the conditional reads, in clause order, without duplicates.
func (c *Conditional) References() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, cl := range c.Clauses() {
		if cl.ParentQuestionID == "" || seen[cl.ParentQuestionID] {
			continue
		}
		seen[cl.ParentQuestionID] = true
		refs = append(refs, cl.ParentQuestionID)
	}
	return refs
}

// DependsOn reports whether the conditional reads field.
func (c *Conditional) DependsOn(field string) bool {
	for _, ref := range c.References() {
		if ref == field {
			return true
		}
	}
	return false
}

// Match evaluates the conditional. A nil or empty conditional matches.
func Match(c *Conditional, data model.FormData) bool {
	if c == nil {
		return true
	}
	if len(c.And) > 0 {
		for _, cl := range c.And {
			if !Evaluate(cl, data) {
				return false
			}
		}
		return true
	}
	if len(c.Or) > 0 {
		for _, cl := range c.Or {
			if Evaluate(cl, data) {
				return true
			}
		}
		return false
	}
	if c.ParentQuestionID == "" && c.Operator == "" {
		return true
	}
	return Evaluate(c.Clause, data)
}

// IsVisible is Match under the name callers use for rendering decisions.
func IsVisible(c *Conditional, data model.FormData) bool {
	return Match(c, data)
}

// Unknown returns the operators in c that are not part of the supported set.
func Unknown(c *Conditional) []Operator {
	var out []Operator
	for _, cl := range c.Clauses() {
		if !cl.Operator.Known() {
			out = append(out, cl.Operator)
		}
	}
	return out
}

// WithItem returns a view of data with a repeater item's fields laid over it,
// so item-level clauses resolve sibling fields first and outer answers second.
func WithItem(data model.FormData, item map[string]any) model.FormData {
	out := make(model.FormData, len(data)+len(item))
	for k, v := range data {
		out[k] = v
	}
	for k, v := range item {
		out[k] = v
	}
	return out
}
