package jsonutil

import (
	"strconv"
	"strings"
)

// Value is the outcome of a path lookup: either a found string or missing.
type Value struct {
	s     string
	found bool
}

// Found wraps a present value.
func Found(s string) Value { return Value{s: s, found: true} }

// Missing is the zero Value.
func Missing() Value { return Value{} }

// Get returns the value and whether it was found.
func (v Value) Get() (string, bool) { return v.s, v.found }

// IsFound reports whether the lookup produced a value.
func (v Value) IsFound() bool { return v.found }

// Or returns the found value, or def when missing.
func (v Value) Or(def string) string {
	if v.found {
		return v.s
	}
	return def
}

// OrNil returns a pointer to the found value, or nil when missing.
// Useful for JSON fields that must encode as null.
func (v Value) OrNil() *string {
	if !v.found {
		return nil
	}
	s := v.s
	return &s
}

// CoerceString converts a value to string when it is already a string.
func CoerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

// CoerceInt converts JSON numbers and numeric strings to int; anything else is 0.
func CoerceInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i
		}
	}
	return 0
}

// FirstInt returns the first path that resolves to a non-zero integer, or 0.
func FirstInt(root any, paths ...string) int {
	for _, p := range paths {
		v, ok := Lookup(root, p)
		if !ok {
			continue
		}
		if n := CoerceInt(v); n != 0 {
			return n
		}
	}
	return 0
}

// FirstString tries each path in order and returns the first one that resolves
// to a non-empty string. Empty strings and non-string leaves count as missing.
func FirstString(root any, paths ...string) Value {
	for _, p := range paths {
		v, ok := Lookup(root, p)
		if !ok {
			continue
		}
		if s := CoerceString(v); s != "" {
			return Found(s)
		}
	}
	return Missing()
}

// Lookup reads a value from decoded JSON using a restricted JSONPath subset:
// - $.a.b.c
// - $.items[0].x
// - $.matrix[0][1]
// Any missing key, wrong container type or out-of-range index yields ok=false.
func Lookup(root any, path string) (any, bool) {
	p := strings.TrimSpace(path)
	if p == "$" {
		return root, root != nil
	}
	if !strings.HasPrefix(p, "$.") {
		return nil, false
	}
	return lookupParts(root, strings.Split(strings.TrimPrefix(p, "$."), "."))
}

func lookupParts(cur any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return cur, cur != nil
	}
	part := strings.TrimSpace(parts[0])
	if part == "" {
		return nil, false
	}
	name, idxs, ok := splitIndexes(part)
	if !ok {
		return nil, false
	}
	if name != "" {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[name]
		if !ok {
			return nil, false
		}
		cur = next
	}
	for _, idx := range idxs {
		arr, ok := cur.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		cur = arr[idx]
	}
	return lookupParts(cur, parts[1:])
}

// splitIndexes parses "name[0][1]" into ("name", [0 1]).
func splitIndexes(s string) (name string, idxs []int, ok bool) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, nil, true
	}
	name = s[:open]
	rest := s[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
		if err != nil {
			return "", nil, false
		}
		idxs = append(idxs, n)
		rest = rest[end+1:]
	}
	return name, idxs, true
}
