package questions

import (
	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
)

// FieldsToClearForConditional returns the names of the questions that were
// visible before changedField went from oldValue to newValue and are hidden
// after, considering questions that depend on the field directly, through
// and/or, or through their step's gate. fullFormData is not modified.
func FieldsToClearForConditional(sc *schema.Schema, changedField string, oldValue, newValue any, role model.Role, fullFormData model.FormData) []string {
	if sc == nil || changedField == "" {
		return nil
	}

	before := snapshot(fullFormData, changedField, oldValue)
	after := snapshot(fullFormData, changedField, newValue)

	var cleared []string
	seen := make(map[string]bool)
	for _, st := range orderedSteps(sc, role) {
		stepDepends := st.Conditional != nil && st.Conditional.ParentQuestionID == changedField
		stepBefore := st.Conditional == nil || conditional.Evaluate(*st.Conditional, before)
		stepAfter := st.Conditional == nil || conditional.Evaluate(*st.Conditional, after)

		for _, q := range questionsFor(sc, st.ID, role) {
			if q.Name == changedField || seen[q.Name] {
				continue
			}
			if !stepDepends && !q.Conditional.DependsOn(changedField) {
				continue
			}
			visibleBefore := stepBefore && conditional.IsVisible(q.Conditional, before)
			visibleAfter := stepAfter && conditional.IsVisible(q.Conditional, after)
			if visibleBefore && !visibleAfter {
				seen[q.Name] = true
				cleared = append(cleared, q.Name)
			}
		}
	}
	return cleared
}

// ApplyChange sets field to value on a copy of data and removes every answer
// the change hides, following the hides through to the questions that
// depended on a removed answer. The input map is left untouched.
func ApplyChange(sc *schema.Schema, role model.Role, data model.FormData, field string, value any) (model.FormData, []string) {
	out := data.Clone()
	old := out[field]
	if value == nil {
		delete(out, field)
	} else {
		out[field] = value
	}

	var cleared []string
	type change struct {
		field    string
		old, new any
	}
	queue := []change{{field, old, value}}
	removed := make(map[string]bool)

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		// Both snapshots are taken from out, so earlier removals are reflected in each.
		for _, name := range FieldsToClearForConditional(sc, c.field, c.old, c.new, role, out) {
			if removed[name] {
				continue
			}
			removed[name] = true
			prev, had := out[name]
			delete(out, name)
			cleared = append(cleared, name)
			if had {
				queue = append(queue, change{name, prev, nil})
			}
		}
	}
	return out, cleared
}

func snapshot(data model.FormData, field string, value any) model.FormData {
	out := data.Clone()
	if value == nil {
		delete(out, field)
	} else {
		out[field] = value
	}
	return out
}
