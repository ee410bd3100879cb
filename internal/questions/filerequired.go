package questions

import (
	"strings"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
)

// fileRequired derives whether an upload must be provided when the schema does not say so.
//
// A conditional upload is required only when the YES/NO question it hangs off
// is answered YES. An unconditional upload is required once any sibling in its
// namespace carries a meaningful answer.
func fileRequired(q schema.Question, data model.FormData, all []schema.Question) bool {
	if q.Conditional != nil {
		return triggeredByYes(q, data, all)
	}
	return namespaceAnswered(q, data, all)
}

func triggeredByYes(q schema.Question, data model.FormData, all []schema.Question) bool {
	parentIsYesNo := false
	for _, cl := range q.Conditional.Clauses() {
		if cl.Operator == conditional.Equals && isYes(cl.Value) && conditional.Evaluate(cl, data) {
			return true
		}
		parent, ok := lookup(all, cl.ParentQuestionID)
		if ok && parent.IsYesNo() {
			parentIsYesNo = true
			if isYes(data[parent.Name]) {
				return true
			}
		}
	}
	if parentIsYesNo {
		return false
	}

	// The conditional hangs off a non YES/NO question, e.g. an income-source
	// checkbox; look for the YES/NO trigger that owns the upload's namespace.
	ns := q.Namespace()
	if ns == "" {
		return false
	}
	for _, s := range all {
		if s.Name == q.Name || s.Namespace() != ns || !s.IsYesNo() {
			continue
		}
		if isYes(data[s.Name]) {
			return true
		}
	}
	return false
}

func namespaceAnswered(q schema.Question, data model.FormData, all []schema.Question) bool {
	ns := q.Namespace()
	if ns == "" {
		return false
	}
	for _, s := range all {
		if s.Name == q.Name || s.Type == schema.TypeFile || s.Namespace() != ns {
			continue
		}
		if meaningful(data[s.Name]) {
			return true
		}
	}
	return false
}

func lookup(all []schema.Question, ref string) (schema.Question, bool) {
	for _, q := range all {
		if q.Name == ref || q.ID == ref {
			return q, true
		}
	}
	return schema.Question{}, false
}

func isYes(v any) bool {
	s, ok := v.(string)
	return ok && strings.EqualFold(strings.TrimSpace(s), "YES")
}

// meaningful reports an answer that says something: not blank, not false and
// not one of the "nothing to report" placeholders.
func meaningful(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "", "NA", "N/A", "NONE":
			return false
		}
		return true
	case bool:
		return x
	case []any:
		for _, item := range x {
			if meaningful(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return len(x) > 0
	}
	return true
}
