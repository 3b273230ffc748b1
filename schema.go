// Defines the optional record schema and its validation.

package octaviadb

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/maruel/octaviadb/internal/value"
)

// Kind is the type tag of a schema field.
type Kind uint8

const (
	// KindString matches JSON strings.
	KindString Kind = iota + 1
	// KindNumber matches JSON numbers.
	KindNumber
	// KindBoolean matches true and false.
	KindBoolean
	// KindArray matches JSON arrays.
	KindArray
	// KindObject matches JSON objects, optionally constrained by a nested
	// schema.
	KindObject
)

// String returns the JSON type name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Field is one entry of a Schema. Build it with String, Number, Boolean,
// Array or Object.
type Field struct {
	kind   Kind
	nested Schema
}

// Kind returns the field type.
func (f Field) Kind() Kind {
	return f.kind
}

// Nested returns the nested schema of an object field, nil otherwise.
func (f Field) Nested() Schema {
	return f.nested
}

// String returns a field accepting strings.
func String() Field { return Field{kind: KindString} }

// Number returns a field accepting numbers.
func Number() Field { return Field{kind: KindNumber} }

// Boolean returns a field accepting booleans.
func Boolean() Field { return Field{kind: KindBoolean} }

// Array returns a field accepting arrays.
func Array() Field { return Field{kind: KindArray} }

// Object returns a field accepting objects. A nil nested schema accepts any
// object.
func Object(nested Schema) Field { return Field{kind: KindObject, nested: nested} }

// Schema maps field names to their expected type.
//
// Only fields present in both the value and the schema are checked; extra
// fields and missing fields are accepted. A null value never satisfies a
// field.
type Schema map[string]Field

// Validate checks a normalized record against the schema. Fields are visited
// in sorted order and the first mismatch is returned as a CodeSchemaMismatch
// error with "path", "expected" and "actual" details.
func (s Schema) Validate(record map[string]any) error {
	return s.validate(nil, record)
}

func (s Schema) validate(prefix []string, record map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(s)) {
		v, ok := record[k]
		if !ok {
			continue
		}
		f := s[k]
		path := append(slices.Clone(prefix), k)
		if !f.accepts(v) {
			return schemaError(path, f.kind, v)
		}
		if f.kind == KindObject && f.nested != nil {
			if err := f.nested.validate(path, v.(map[string]any)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f Field) accepts(v any) bool {
	switch f.kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func schemaError(path []string, want Kind, got any) *Error {
	p := strings.Join(path, ".")
	return newError(CodeSchemaMismatch, "invalid type for %s: expected %s, got %s", p, want, value.Kind(got)).
		WithDetail("path", p).
		WithDetail("expected", want.String()).
		WithDetail("actual", value.Kind(got))
}
