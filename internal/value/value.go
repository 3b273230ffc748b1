// Package value normalizes, clones and compares JSON value trees.
//
// A normalized tree only contains the types produced by encoding/json when
// decoding into an any: nil, bool, float64, string, []any and map[string]any.
// The store keeps every cached value in this form so that the in-memory cache
// and the persisted file never disagree on representation.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/copystructure"
)

// Normalize converts v into a normalized JSON tree by round-tripping it
// through encoding/json.
func Normalize(v any) (any, error) {
	if isNormalized(v) {
		return Clone(v), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not representable as JSON: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode normalized value: %w", err)
	}
	return out, nil
}

// NormalizeMap is Normalize for a mapping. It fails if v does not serialize to
// a JSON object.
func NormalizeMap(v map[string]any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", Kind(n))
	}
	return m, nil
}

// Clone returns a deep copy of a normalized tree.
func Clone(v any) any {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return t
	}
	c, err := copystructure.Copy(v)
	if err != nil {
		// copystructure only fails on types a normalized tree cannot hold.
		panic(fmt.Sprintf("internal error: clone of %T: %v", v, err))
	}
	return c
}

// CloneMap returns a deep copy of a normalized mapping.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}

// Equal reports whether two normalized trees are structurally equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

// Kind returns the JSON type name of a normalized value, as used in error
// messages.
func Kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isNormalized reports whether v only contains normalized types.
func isNormalized(v any) bool {
	switch t := v.(type) {
	case nil, bool, string:
		return true
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case []any:
		for _, e := range t {
			if !isNormalized(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range t {
			if !isNormalized(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
