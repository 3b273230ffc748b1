// Converts between Schema and JSON Schema documents.

package octaviadb

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
)

// SchemaFromType derives a Schema from the JSON encoding of a Go struct.
//
// It uses github.com/invopop/jsonschema reflection, so json tags, embedded
// structs and nested structs are honored. Fields whose JSON type is not
// constrained (such as any) are left out of the schema.
func SchemaFromType[T any]() (Schema, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, newError(CodeInvalidArgument, "type must be a struct or pointer to struct, got %s", t.Kind())
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, AllowAdditionalProperties: true}
	return fromJSONSchema(r.ReflectFromType(t)), nil
}

func fromJSONSchema(s *jsonschema.Schema) Schema {
	if s == nil || s.Properties == nil {
		return nil
	}
	out := make(Schema, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if f, ok := fieldFromJSONSchema(pair.Value); ok {
			out[pair.Key] = f
		}
	}
	return out
}

func fieldFromJSONSchema(s *jsonschema.Schema) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	switch s.Type {
	case "string":
		return String(), true
	case "integer", "number":
		return Number(), true
	case "boolean":
		return Boolean(), true
	case "array":
		return Array(), true
	case "object":
		return Object(fromJSONSchema(s)), true
	default:
		return Field{}, false
	}
}

// JSONSchema exports the schema as a JSON Schema object. Properties are
// emitted in sorted order and additional properties are allowed, matching
// Validate.
func (s Schema) JSONSchema() *jsonschema.Schema {
	out := &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties()}
	for _, k := range slices.Sorted(maps.Keys(s)) {
		out.Properties.Set(k, s[k].jsonSchema())
	}
	return out
}

func (f Field) jsonSchema() *jsonschema.Schema {
	switch f.kind {
	case KindString, KindNumber, KindBoolean, KindArray:
		return &jsonschema.Schema{Type: f.kind.String()}
	case KindObject:
		if f.nested == nil {
			return &jsonschema.Schema{Type: "object"}
		}
		return f.nested.JSONSchema()
	default:
		panic(fmt.Sprintf("internal error: invalid field kind %d", f.kind))
	}
}
