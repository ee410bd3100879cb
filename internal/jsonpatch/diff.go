// Package jsonpatch computes RFC 6902 patches between form-data snapshots. The
// orchestrator uses them to find which answers changed since the last save.
package jsonpatch

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"filing-engine/internal/model"
)

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Diff computes the patch that transforms a into b. Both are values decoded
// from JSON; path is "" for the root document. Object keys are visited in
// sorted order so the patch is deterministic.
func Diff(a, b any, path string) []Op {
	if a == nil && b == nil {
		return nil
	}
	if a == nil || b == nil {
		return []Op{{Op: OpReplace, Path: path, Value: b}}
	}

	aMap, aIsMap := asMap(a)
	bMap, bIsMap := asMap(b)
	if aIsMap && bIsMap {
		return diffObjects(aMap, bMap, path)
	}

	aArr, aIsArr := a.([]any)
	bArr, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		return diffArrays(aArr, bArr, path)
	}

	if !reflect.DeepEqual(a, b) {
		return []Op{{Op: OpReplace, Path: path, Value: b}}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.FormData:
		return m, true
	}
	return nil, false
}

func diffObjects(a, b map[string]any, path string) []Op {
	var ops []Op

	for _, k := range sortedKeys(a) {
		if _, ok := b[k]; !ok {
			ops = append(ops, Op{Op: OpRemove, Path: path + "/" + escapeKey(k)})
		}
	}

	for _, k := range sortedKeys(b) {
		childPath := path + "/" + escapeKey(k)
		av, inA := a[k]
		if !inA {
			ops = append(ops, Op{Op: OpAdd, Path: childPath, Value: b[k]})
			continue
		}
		ops = append(ops, Diff(av, b[k], childPath)...)
	}
	return ops
}

func diffArrays(a, b []any, path string) []Op {
	var ops []Op

	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		ops = append(ops, Diff(a[i], b[i], path+"/"+strconv.Itoa(i))...)
	}

	// Removals run from the end so earlier indexes stay valid.
	for i := len(a) - 1; i >= minLen; i-- {
		ops = append(ops, Op{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
	}
	for i := minLen; i < len(b); i++ {
		ops = append(ops, Op{Op: OpAdd, Path: path + "/" + strconv.Itoa(i), Value: b[i]})
	}
	return ops
}

// ChangedFields collapses a form-data patch to the top-level answers it
// touches, mapped to their value in after. Removed answers map to nil.
func ChangedFields(ops []Op, after model.FormData) model.FormData {
	out := make(model.FormData)
	for _, op := range ops {
		field := topLevel(op.Path)
		if field == "" {
			continue
		}
		if v, ok := after[field]; ok {
			out[field] = v
		} else {
			out[field] = nil
		}
	}
	return out
}

// FormDataChanges returns the answers that differ between two snapshots of
// the same person's form data.
func FormDataChanges(before, after model.FormData) model.FormData {
	return ChangedFields(Diff(map[string]any(before), map[string]any(after), ""), after)
}

func topLevel(path string) string {
	if !strings.HasPrefix(path, "/") {
		return ""
	}
	token := path[1:]
	if i := strings.IndexByte(token, '/'); i >= 0 {
		token = token[:i]
	}
	return unescapeKey(token)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escapeKey escapes a JSON Pointer token per RFC 6901.
func escapeKey(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}

func unescapeKey(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	s = strings.ReplaceAll(s, "~0", "~")
	return s
}
