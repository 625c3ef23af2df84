// Package schema models table schemas and resolves them from a catalog
// name, a URL or an uploaded document.
//
// A Schema is immutable once resolved. It declares ordered fields with a
// type and constraints, an optional primary key, foreign keys, the set of
// strings that count as missing values, and optional custom checks.
package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FieldType is the declared logical type of a column.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeInteger   FieldType = "integer"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeTime      FieldType = "time"
	TypeDatetime  FieldType = "datetime"
	TypeYear      FieldType = "year"
	TypeYearMonth FieldType = "yearmonth"
	TypeDuration  FieldType = "duration"
	TypeGeopoint  FieldType = "geopoint"
	TypeObject    FieldType = "object"
	TypeArray     FieldType = "array"
	TypeAny       FieldType = "any"
)

// Schema is a resolved table schema.
type Schema struct {
	Fields        []Field       `json:"fields"`
	PrimaryKey    FieldNames    `json:"primaryKey,omitempty"`
	ForeignKeys   []ForeignKey  `json:"foreignKeys,omitempty"`
	MissingValues []string      `json:"missingValues,omitempty"`
	CustomChecks  []CustomCheck `json:"custom_checks,omitempty"`

	// Locator records where the schema came from.
	Locator string `json:"-"`
}

// Field declares one column.
type Field struct {
	Name        string      `json:"name"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Type        FieldType   `json:"type,omitempty"`
	Format      string      `json:"format,omitempty"`
	TrueValues  []string    `json:"trueValues,omitempty"`
	FalseValues []string    `json:"falseValues,omitempty"`
	DecimalChar string      `json:"decimalChar,omitempty"`
	GroupChar   string      `json:"groupChar,omitempty"`
	BareNumber  *bool       `json:"bareNumber,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
}

// Constraints restrict the values of a field.
type Constraints struct {
	Required  bool      `json:"required,omitempty"`
	Unique    bool      `json:"unique,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	MinLength *int      `json:"minLength,omitempty"`
	MaxLength *int      `json:"maxLength,omitempty"`
	Minimum   *Literal  `json:"minimum,omitempty"`
	Maximum   *Literal  `json:"maximum,omitempty"`
	Enum      []Literal `json:"enum,omitempty"`
}

// ForeignKey ties local fields to fields of a referenced resource. An
// empty Reference.Resource refers to the table itself.
type ForeignKey struct {
	Fields    FieldNames `json:"fields"`
	Reference Reference  `json:"reference"`
}

// Reference is the target of a foreign key.
type Reference struct {
	Resource string     `json:"resource,omitempty"`
	Fields   FieldNames `json:"fields"`
}

// SelfReference reports whether the key points at the same table.
func (fk ForeignKey) SelfReference() bool {
	return fk.Reference.Resource == ""
}

// CustomCheck declares a named row check with free-form parameters.
type CustomCheck struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// FieldNames accepts either a single name or a list of names.
type FieldNames []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldNames) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FieldNames{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// Literal is a constraint value (minimum, maximum, enum member) kept in
// its textual form. It is coerced with the field's type when a validator
// is built, so "10" and 10 mean the same thing.
type Literal string

// UnmarshalJSON implements json.Unmarshaler.
func (l *Literal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Literal(s)
	case bytes.Equal(data, []byte("null")):
		*l = ""
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err == nil {
			*l = Literal(normalizeNumber(n.String()))
			return nil
		}
		*l = Literal(data)
	}
	return nil
}

// normalizeNumber renders integral floats without exponent or fraction,
// so a YAML-sourced 5 (decoded as 5.0) reads back as "5".
func normalizeNumber(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FieldNames returns the declared field names in order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field declared under name.
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// Missing reports whether a raw cell counts as a missing value.
func (s *Schema) Missing(raw string) bool {
	for _, mv := range s.MissingValues {
		if raw == mv {
			return true
		}
	}
	return false
}

// References returns the distinct external resource names targeted by
// foreign keys.
func (s *Schema) References() []string {
	seen := make(map[string]bool)
	var out []string
	for _, fk := range s.ForeignKeys {
		r := fk.Reference.Resource
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
