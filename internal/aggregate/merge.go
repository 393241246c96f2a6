package aggregate

import (
	"encoding/json"
	"strings"
)

// DeepMerge combines two decoded JSON values:
//   - lists concatenate,
//   - strings join with a single space after whitespace normalization,
//   - numbers sum,
//   - objects merge key by key, recursively.
//
// On a type mismatch the non-empty operand wins, preferring a when both are non-empty.
// Neither input is modified.
func DeepMerge(a, b interface{}) interface{} {
	if isEmpty(b) {
		return clone(a)
	}
	if isEmpty(a) {
		return clone(b)
	}

	switch av := a.(type) {
	case map[string]interface{}:
		if bv, ok := b.(map[string]interface{}); ok {
			out := make(map[string]interface{}, len(av)+len(bv))
			for k, v := range av {
				out[k] = clone(v)
			}
			for k, v := range bv {
				if existing, ok := out[k]; ok {
					out[k] = DeepMerge(existing, v)
				} else {
					out[k] = clone(v)
				}
			}
			return out
		}
	case []interface{}:
		if bv, ok := b.([]interface{}); ok {
			out := make([]interface{}, 0, len(av)+len(bv))
			for _, v := range av {
				out = append(out, clone(v))
			}
			for _, v := range bv {
				out = append(out, clone(v))
			}
			return out
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Join(strings.Fields(av+" "+bv), " ")
		}
	}

	if an, ok := number(a); ok {
		if bn, ok := number(b); ok {
			ai, aInt := a.(int)
			bi, bInt := b.(int)
			if aInt && bInt {
				return ai + bi
			}
			return an + bn
		}
	}
	return clone(a)
}

// MergeAll folds DeepMerge over values from left to right.
func MergeAll(values ...interface{}) interface{} {
	var out interface{}
	for _, v := range values {
		out = DeepMerge(out, v)
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	}
	return v
}
