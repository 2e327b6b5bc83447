// Package intent defines the intent vocabulary SAGE understands and the
// field schema attached to each intent. The normalizer validates form
// payloads against these schemas; the extractor embeds them into its LLM
// prompt so unstructured text yields the same field shape.
package intent

import "errors"

// ErrUnknownIntent is returned when an intent name has no registered schema.
var ErrUnknownIntent = errors.New("intent: unknown intent")

// FieldType describes how a schema field is validated and hinted to the model.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldEnum   FieldType = "enum"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
)

// FieldSpec declares one field of an intent schema.
type FieldSpec struct {
	// Name is the canonical field key (snake_case).
	Name string

	// Type controls validation and the extraction hint.
	Type FieldType

	// Required fields must be present and non-empty for the input to count
	// as complete.
	Required bool

	// Enum lists the allowed values when Type is FieldEnum.
	Enum []string

	// Hint is a short description embedded in the extraction prompt
	// (e.g., "free text such as '20 minutes' or 'about an hour'").
	Hint string
}

// AllowsValue reports whether v is a legal value for an enum field.
// Non-enum fields accept any value.
func (f FieldSpec) AllowsValue(v string) bool {
	if f.Type != FieldEnum {
		return true
	}
	for _, e := range f.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// Schema is the declared field set for one intent.
type Schema struct {
	// Intent is the canonical intent name.
	Intent string

	// Description is embedded in the extraction prompt to help the model
	// decide field values.
	Description string

	// Fields lists the schema fields in declaration order.
	Fields []FieldSpec
}

// RequiredFields returns the names of all required fields, in declaration order.
func (s Schema) RequiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Field returns the spec for the named field.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ExtractedIntent is the result of semantic extraction over free-form text.
type ExtractedIntent struct {
	// Intent is the intent name the extraction was performed for.
	Intent string

	// Data maps schema field names to extracted values.
	Data map[string]any

	// DataComplete is true when every required field is populated.
	DataComplete bool

	// MissingFields lists required fields absent from Data, in schema
	// declaration order.
	MissingFields []string

	// Confidence is the extraction confidence in [0, 1]. Values below the
	// configured threshold trigger a clarification turn instead of state
	// mutation.
	Confidence float64
}

// MissingRequired returns the required fields of schema that have no
// non-empty value in data, in schema declaration order.
func MissingRequired(schema Schema, data map[string]any) []string {
	var missing []string
	for _, f := range schema.Fields {
		if !f.Required {
			continue
		}
		v, ok := data[f.Name]
		if !ok || v == nil || v == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
