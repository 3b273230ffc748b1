package octaviadb

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSchemaValidate(t *testing.T) {
	schema := Schema{
		"name":  String(),
		"age":   Number(),
		"admin": Boolean(),
		"tags":  Array(),
		"meta":  Object(nil),
		"addr":  Object(Schema{"city": String(), "geo": Object(Schema{"lat": Number()})}),
	}
	tests := []struct {
		name   string
		record map[string]any
		path   string
		actual string
	}{
		{"valid", map[string]any{"name": "a", "age": 1.0, "admin": false, "tags": []any{}, "meta": map[string]any{"x": 1.0}}, "", ""},
		{"extra and missing fields", map[string]any{"other": 1.0}, "", ""},
		{"string", map[string]any{"name": 1.0}, "name", "number"},
		{"number", map[string]any{"age": "1"}, "age", "string"},
		{"boolean", map[string]any{"admin": "true"}, "admin", "string"},
		{"array", map[string]any{"tags": map[string]any{}}, "tags", "object"},
		{"object", map[string]any{"meta": []any{}}, "meta", "array"},
		{"null", map[string]any{"name": nil}, "name", "null"},
		{"nested", map[string]any{"addr": map[string]any{"city": true}}, "addr.city", "boolean"},
		{"deep", map[string]any{"addr": map[string]any{"geo": map[string]any{"lat": "n"}}}, "addr.geo.lat", "string"},
		{"sorted first failure", map[string]any{"name": 1.0, "age": "x"}, "age", "string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.record)
			if tt.path == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			var e *Error
			if !errors.As(err, &e) || e.Code() != CodeSchemaMismatch {
				t.Fatalf("Validate() error = %v, want schema mismatch", err)
			}
			if got := e.Details()["path"]; got != tt.path {
				t.Errorf("path = %v, want %s", got, tt.path)
			}
			if got := e.Details()["actual"]; got != tt.actual {
				t.Errorf("actual = %v, want %s", got, tt.actual)
			}
		})
	}
}

type testAddress struct {
	City string `json:"city"`
	Zip  string `json:"zip,omitempty"`
}

type testUser struct {
	Name    string         `json:"name"`
	Age     int            `json:"age"`
	Score   float64        `json:"score"`
	Admin   bool           `json:"admin"`
	Tags    []string       `json:"tags"`
	Address testAddress    `json:"address"`
	Extra   any            `json:"extra"`
	Meta    map[string]int `json:"meta"`
}

func TestSchemaFromType(t *testing.T) {
	got, err := SchemaFromType[testUser]()
	if err != nil {
		t.Fatal(err)
	}
	want := Schema{
		"name":    String(),
		"age":     Number(),
		"score":   Number(),
		"admin":   Boolean(),
		"tags":    Array(),
		"address": Object(Schema{"city": String(), "zip": String()}),
		"meta":    Object(nil),
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Field{})); diff != "" {
		t.Errorf("SchemaFromType() mismatch (-want +got):\n%s", diff)
	}
	if _, err := SchemaFromType[*testUser](); err != nil {
		t.Errorf("SchemaFromType[*T]() failed: %v", err)
	}
	if _, err := SchemaFromType[int](); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SchemaFromType[int]() error = %v, want ErrInvalidArgument", err)
	}
}

func TestSchemaJSONSchema(t *testing.T) {
	schema := Schema{"b": Number(), "a": Object(Schema{"c": Boolean()}), "d": Object(nil)}
	data, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "object", "properties": map[string]any{"c": map[string]any{"type": "boolean"}}},
			"b": map[string]any{"type": "number"},
			"d": map[string]any{"type": "object"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSONSchema() mismatch (-want +got):\n%s", diff)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindString: "string", KindNumber: "number", KindBoolean: "boolean", KindArray: "array", KindObject: "object", 0: "Kind(0)"} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
