package conditional

import (
	"strconv"
	"strings"

	"filing-engine/internal/model"
)

// Evaluate applies one clause to the parent field's stored value.
// Missing fields are nil; every operator has a defined answer for nil.
func Evaluate(c Clause, data model.FormData) bool {
	parent, ok := data[c.ParentQuestionID]
	if !ok {
		parent = nil
	}
	parent = normalize(parent)

	switch c.Operator {
	case Equals:
		return equal(parent, c.Value)
	case NotEquals:
		return !equal(parent, c.Value)
	case NotEqualsStrict:
		if parent == nil {
			return false
		}
		return !equal(parent, c.Value)
	case GreaterThan:
		a, aok := toNumber(parent)
		b, bok := toNumber(c.Value)
		return aok && bok && a > b
	case In:
		return member(c.list(), parent)
	case NotIn:
		return !member(c.list(), parent)
	case Contains:
		arr, isArr := parent.([]any)
		return isArr && member(arr, c.Value)
	case NotContains:
		arr, isArr := parent.([]any)
		if !isArr {
			return true
		}
		return !member(arr, c.Value)
	case HasAny:
		arr, isArr := parent.([]any)
		if !isArr {
			return false
		}
		for _, want := range c.list() {
			if member(arr, want) {
				return true
			}
		}
		return false
	default:
		// Unrecognised operators keep the content visible.
		return true
	}
}

// list returns Values, or Value when the schema supplied the list there.
func (c Clause) list() []any {
	if len(c.Values) > 0 {
		return c.Values
	}
	if arr, ok := c.Value.([]any); ok {
		return arr
	}
	if c.Value != nil {
		return []any{c.Value}
	}
	return nil
}

func member(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

// equal is strict equality on the raw value. JSON decodes numbers as float64
// and YAML as int, so integers are widened before comparing; strings never
// equal numbers.
func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out
	}
	return v
}

// toNumber coerces answers to a float. Blank strings and nil are not numbers.
func toNumber(v any) (float64, bool) {
	switch n := normalize(v).(type) {
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// ToNumber exposes the numeric coercion used by greaterThan for range validation.
func ToNumber(v any) (float64, bool) {
	return toNumber(v)
}

// Equal exposes the strict equality used by equals and in.
func Equal(a, b any) bool {
	return equal(a, b)
}
