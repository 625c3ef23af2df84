package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tableschema.json
var tableSchemaJSON []byte

var (
	metaOnce   sync.Once
	metaSchema *santhosh.Schema
	metaErr    error
)

// compileMeta builds the schema-of-schemas once.
func compileMeta() (*santhosh.Schema, error) {
	metaOnce.Do(func() {
		compiler := santhosh.NewCompiler()
		compiler.Draft = santhosh.Draft7
		if err := compiler.AddResource("tableschema.json", bytes.NewReader(tableSchemaJSON)); err != nil {
			metaErr = err
			return
		}
		metaSchema, metaErr = compiler.Compile("tableschema.json")
	})
	return metaSchema, metaErr
}

// Parse decodes a JSON or YAML schema document and checks it against the
// table schema structure and its own consistency rules. Decoding failures
// yield a Malformed error; structural or consistency violations yield an
// Invalid error listing every problem found.
func Parse(data []byte) (*Schema, error) {
	doc, normalized, err := decodeDocument(data)
	if err != nil {
		return nil, &ResolutionError{Kind: KindMalformed, Detail: err.Error(), Err: err}
	}

	meta, err := compileMeta()
	if err != nil {
		return nil, fmt.Errorf("compile table schema definition: %w", err)
	}
	if err := meta.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return nil, invalid(collectValidationErrors(ve))
		}
		return nil, invalid([]string{err.Error()})
	}

	var s Schema
	if err := json.Unmarshal(normalized, &s); err != nil {
		return nil, invalid([]string{err.Error()})
	}

	s.applyDefaults()
	if problems := s.check(); len(problems) > 0 {
		return nil, invalid(problems)
	}
	return &s, nil
}

// decodeDocument accepts JSON or YAML and returns the generic document plus
// its JSON encoding. The top level must be an object.
func decodeDocument(data []byte) (any, []byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, errors.New("empty document")
	}

	var doc any
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	if _, ok := doc.(map[string]any); !ok {
		return nil, nil, fmt.Errorf("document is not an object")
	}

	// Round-trip through JSON so YAML-specific Go types (int, time.Time)
	// become the plain JSON types the validator expects.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize document: %w", err)
	}
	var plain any
	if err := json.Unmarshal(normalized, &plain); err != nil {
		return nil, nil, fmt.Errorf("normalize document: %w", err)
	}
	return plain, normalized, nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", loc, ve.Message))
	}
	return msgs
}

func invalid(problems []string) *ResolutionError {
	return &ResolutionError{Kind: KindInvalid, Detail: strings.Join(problems, "; ")}
}

func (s *Schema) applyDefaults() {
	if s.MissingValues == nil {
		s.MissingValues = []string{""}
	}
	for i := range s.Fields {
		if s.Fields[i].Type == "" {
			s.Fields[i].Type = TypeString
		}
		if s.Fields[i].Format == "" {
			s.Fields[i].Format = "default"
		}
	}
	// Primary key columns may never be empty.
	for _, name := range s.PrimaryKey {
		if f, ok := s.Field(name); ok {
			f.Constraints.Required = true
		}
	}
}

// check enforces the consistency rules the structural definition cannot
// express.
func (s *Schema) check() []string {
	var problems []string

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f.Name] {
			problems = append(problems, fmt.Sprintf("duplicate field name %q", f.Name))
		}
		seen[f.Name] = true

		if f.Constraints.Pattern != "" {
			if _, err := regexp.Compile(f.Constraints.Pattern); err != nil {
				problems = append(problems, fmt.Sprintf("field %q: invalid pattern: %v", f.Name, err))
			}
		}
		if f.Constraints.MinLength != nil && f.Constraints.MaxLength != nil &&
			*f.Constraints.MinLength > *f.Constraints.MaxLength {
			problems = append(problems, fmt.Sprintf("field %q: minLength exceeds maxLength", f.Name))
		}
	}

	for _, name := range s.PrimaryKey {
		if !seen[name] {
			problems = append(problems, fmt.Sprintf("primary key field %q is not declared", name))
		}
	}

	for i, fk := range s.ForeignKeys {
		for _, name := range fk.Fields {
			if !seen[name] {
				problems = append(problems, fmt.Sprintf("foreign key %d: field %q is not declared", i, name))
			}
		}
		if len(fk.Fields) != len(fk.Reference.Fields) {
			problems = append(problems, fmt.Sprintf("foreign key %d: %d local fields but %d reference fields",
				i, len(fk.Fields), len(fk.Reference.Fields)))
		}
		if fk.SelfReference() {
			for _, name := range fk.Reference.Fields {
				if !seen[name] {
					problems = append(problems, fmt.Sprintf("foreign key %d: referenced field %q is not declared", i, name))
				}
			}
		}
	}

	return problems
}

// CheckReference verifies that every foreign key targeting resource names
// fields that exist in ref.
func (s *Schema) CheckReference(resource string, ref *Schema) error {
	var problems []string
	for i, fk := range s.ForeignKeys {
		if fk.Reference.Resource != resource {
			continue
		}
		for _, name := range fk.Reference.Fields {
			if _, ok := ref.Field(name); !ok {
				problems = append(problems, fmt.Sprintf("foreign key %d: field %q not found in resource %q", i, name, resource))
			}
		}
	}
	if len(problems) > 0 {
		return invalid(problems)
	}
	return nil
}
