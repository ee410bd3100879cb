// Package questions turns a schema into the ordered, role-specific sections a
// filer walks through, validates their answers, and works out which answers
// become stale when a field another question depends on changes.
package questions

import (
	"sort"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
)

// Section is a step with the questions that apply to the filer's role.
type Section struct {
	Step      schema.Step       `json:"step"`
	Questions []schema.Question `json:"questions"`
}

// VisibleQuestions returns the questions whose conditionals currently hold.
func (s Section) VisibleQuestions(data model.FormData) []schema.Question {
	var out []schema.Question
	for _, q := range s.Questions {
		if conditional.IsVisible(q.Conditional, data) {
			out = append(out, q)
		}
	}
	return out
}

// SectionsForRole lists the sections role sees for the current answers, in step order.
func SectionsForRole(sc *schema.Schema, role model.Role, data model.FormData) []Section {
	if sc == nil {
		return nil
	}

	var sections []Section
	for _, st := range orderedSteps(sc, role) {
		sec := Section{Step: st, Questions: questionsFor(sc, st.ID, role)}
		if !stepVisible(sec, data) {
			continue
		}
		sections = append(sections, sec)
	}
	return sections
}

// SectionByStep finds the section for stepID among the role's visible sections.
func SectionByStep(sc *schema.Schema, role model.Role, data model.FormData, stepID string) (Section, bool) {
	for _, sec := range SectionsForRole(sc, role, data) {
		if sec.Step.ID == stepID {
			return sec, true
		}
	}
	return Section{}, false
}

// orderedSteps returns the role's non-structural steps sorted by order.
func orderedSteps(sc *schema.Schema, role model.Role) []schema.Step {
	var steps []schema.Step
	for _, st := range sc.Steps {
		if st.Structural() || !st.AppliesTo(role) {
			continue
		}
		steps = append(steps, st)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

func questionsFor(sc *schema.Schema, stepID string, role model.Role) []schema.Question {
	var qs []schema.Question
	for _, q := range sc.Questions {
		if q.StepID == stepID && q.AppliesTo(role) {
			qs = append(qs, q)
		}
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
	return qs
}

// stepVisible applies the step gate and, for anyQuestionVisible steps, requires a visible question.
func stepVisible(sec Section, data model.FormData) bool {
	if sec.Step.Conditional != nil && !conditional.Evaluate(*sec.Step.Conditional, data) {
		return false
	}
	if sec.Step.AnyQuestionVisible {
		return len(sec.VisibleQuestions(data)) > 0
	}
	return true
}

// SectionProgress counts answered questions against visible ones.
type SectionProgress struct {
	StepID   string `json:"stepId"`
	Title    string `json:"title"`
	Visible  int    `json:"visible"`
	Answered int    `json:"answered"`
}

// Progress reports per-section completion for dashboards.
func Progress(sections []Section, data model.FormData) []SectionProgress {
	out := make([]SectionProgress, 0, len(sections))
	for _, sec := range sections {
		p := SectionProgress{StepID: sec.Step.ID, Title: sec.Step.Title}
		for _, q := range sec.VisibleQuestions(data) {
			p.Visible++
			if !isEmpty(data[q.Name]) {
				p.Answered++
			}
		}
		out = append(out, p)
	}
	return out
}
