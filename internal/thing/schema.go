package thing

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Metadata describes a property, action or event: type, constraints,
// annotations (@type, unit, title) and flags such as readOnly.
//
// The constraint vocabulary (type, minimum, maximum, enum, required,
// properties) is JSON Schema, so metadata doubles as the validation schema.
type Metadata map[string]any

// ReadOnly reports whether the metadata marks the value as read-only.
func (m Metadata) ReadOnly() bool {
	ro, _ := m["readOnly"].(bool)
	return ro
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case Metadata:
		return t.Clone()
	case map[string]any:
		return map[string]any(Metadata(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// with returns a copy of m with extra keys merged over it.
func (m Metadata) with(extra Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(extra))
	}
	maps.Copy(out, extra)
	return out
}

// compileSchema compiles doc as a JSON Schema. A nil or empty doc yields a
// nil schema, which accepts any value.
func compileSchema(name string, doc any) (*jsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	if m, ok := doc.(Metadata); ok && len(m) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMetadata, name, err)
	}

	compiler := jsonschema.NewCompiler()
	url := "mem://thing/" + strings.ReplaceAll(name, " ", "_") + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMetadata, name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMetadata, name, err)
	}
	return schema, nil
}

// normalize converts v to its JSON data model (float64, bool, string,
// []any, map[string]any) so Go-typed inputs validate the same way as
// decoded wire input.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateAgainst checks v against schema. A nil schema accepts everything.
func validateAgainst(schema *jsonschema.Schema, v any) error {
	if schema == nil {
		return nil
	}
	doc, err := normalize(v)
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
