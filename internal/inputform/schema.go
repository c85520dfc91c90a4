// ABOUTME: Server-described input-form schema parsing for conversation start
// ABOUTME: Decodes the upstream user_input_form wire shape into typed fields

package inputform

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldType identifies the kind of input a field collects.
type FieldType string

// Field types carried on the wire.
const (
	FieldTypeTextInput  FieldType = "text-input"
	FieldTypeParagraph  FieldType = "paragraph"
	FieldTypeNumber     FieldType = "number"
	FieldTypeCheckbox   FieldType = "checkbox"
	FieldTypeSelect     FieldType = "select"
	FieldTypeFile       FieldType = "file"
	FieldTypeFileList   FieldType = "file-list"
	FieldTypeJSONObject FieldType = "json_object"
)

// ReservedKeyVariable is the input variable the handshake session key is
// forwarded into.
const ReservedKeyVariable = "key"

// Field is one entry of the input-form schema.
type Field struct {
	Variable  string    `json:"variable"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Default   any       `json:"default,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
	Hide      bool      `json:"hide,omitempty"`
	Options   []string  `json:"options,omitempty"`
}

// Schema is the ordered set of fields a conversation may require.
type Schema []Field

// rawField is the wire shape: a one-key wrapper object naming the field type,
// optionally with a top-level default and an external data tool marker.
type rawField struct {
	TextInput        *fieldBody      `json:"text-input"`
	Paragraph        *fieldBody      `json:"paragraph"`
	Number           *fieldBody      `json:"number"`
	Checkbox         *fieldBody      `json:"checkbox"`
	Select           *fieldBody      `json:"select"`
	File             *fieldBody      `json:"file"`
	FileList         *fieldBody      `json:"file-list"`
	JSONObject       *fieldBody      `json:"json_object"`
	Default          any             `json:"default,omitempty"`
	ExternalDataTool json.RawMessage `json:"external_data_tool,omitempty"`
}

type fieldBody struct {
	Variable  string   `json:"variable"`
	Label     string   `json:"label"`
	Required  bool     `json:"required"`
	Default   any      `json:"default,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Hide      bool     `json:"hide,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// ParseSchema decodes the upstream user_input_form array and seeds field
// defaults from initial values (typically URL parameter overrides).
// External-data-tool entries are skipped; they are filled server-side.
func ParseSchema(raw []json.RawMessage, initial map[string]any) (Schema, error) {
	schema := make(Schema, 0, len(raw))
	for i, entry := range raw {
		var rf rawField
		if err := json.Unmarshal(entry, &rf); err != nil {
			return nil, fmt.Errorf("parsing input form entry %d: %w", i, err)
		}
		if len(rf.ExternalDataTool) > 0 && string(rf.ExternalDataTool) != "null" {
			continue
		}
		field, ok := rf.toField()
		if !ok {
			// Unknown wrapper key; the contract is additive, skip it.
			continue
		}
		seedDefault(&field, initial)
		schema = append(schema, field)
	}
	return schema, nil
}

func (rf *rawField) toField() (Field, bool) {
	bodies := []struct {
		body *fieldBody
		typ  FieldType
	}{
		{rf.TextInput, FieldTypeTextInput},
		{rf.Paragraph, FieldTypeParagraph},
		{rf.Number, FieldTypeNumber},
		{rf.Checkbox, FieldTypeCheckbox},
		{rf.Select, FieldTypeSelect},
		{rf.File, FieldTypeFile},
		{rf.FileList, FieldTypeFileList},
		{rf.JSONObject, FieldTypeJSONObject},
	}
	for _, b := range bodies {
		if b.body == nil {
			continue
		}
		f := Field{
			Variable:  b.body.Variable,
			Label:     b.body.Label,
			Type:      b.typ,
			Required:  b.body.Required,
			Default:   b.body.Default,
			MaxLength: b.body.MaxLength,
			Hide:      b.body.Hide,
			Options:   b.body.Options,
		}
		if f.Default == nil {
			f.Default = rf.Default
		}
		return f, true
	}
	return Field{}, false
}

// seedDefault applies the initial override for a field, honoring the
// per-type normalization rules: text is trimmed to max_length, numbers are
// converted, selects only accept known options, checkboxes always start
// unchecked.
func seedDefault(f *Field, initial map[string]any) {
	value, ok := initial[f.Variable]

	switch f.Type {
	case FieldTypeTextInput, FieldTypeParagraph:
		if s, isStr := value.(string); ok && isStr && s != "" {
			// Trim by runes so a multi-byte character is never split.
			if r := []rune(s); f.MaxLength > 0 && len(r) > f.MaxLength {
				s = string(r[:f.MaxLength])
			}
			f.Default = s
		}
	case FieldTypeNumber:
		if ok {
			if n, convOK := toNumber(value); convOK {
				f.Default = n
			}
		}
	case FieldTypeSelect:
		if s, isStr := value.(string); ok && isStr && contains(f.Options, s) {
			f.Default = s
		}
	case FieldTypeCheckbox:
		f.Default = false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// AllHidden reports whether the schema is non-empty and every field is
// hidden, in which case the config panel is never shown.
func (s Schema) AllHidden() bool {
	if len(s) == 0 {
		return false
	}
	for _, f := range s {
		if !f.Hide {
			return false
		}
	}
	return true
}

// HasVisibleOrRequired reports whether starting a conversation can require
// the config panel at all.
func (s Schema) HasVisibleOrRequired() bool {
	return len(s) > 0 && !s.AllHidden()
}

// InitialValues builds the starting input map for a new conversation: each
// field's default, with the reserved key variable taken from the session key
// when present.
func (s Schema) InitialValues(sessionKey string) map[string]any {
	values := make(map[string]any, len(s))
	for _, f := range s {
		if f.Variable == ReservedKeyVariable && sessionKey != "" {
			values[ReservedKeyVariable] = sessionKey
			continue
		}
		values[f.Variable] = f.Default
	}
	return values
}
