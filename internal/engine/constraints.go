package engine

// constraints.go compiles field declarations into cell checks.
//
// A cell goes through the same steps every time, in a fixed order so that
// the findings of a row are reproducible:
//  1. missing-value test, then required
//  2. coercion to the declared type
//  3. pattern, on the raw cell
//  4. minLength/maxLength, then minimum/maximum
//  5. enum
//
// A cell failing coercion is null afterwards: it gets one type-error and
// nothing else.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/validata/internal/report"
	"github.com/JonMunkholm/validata/internal/schema"
)

// finding is a cell-level result before row attribution.
type finding struct {
	kind    report.Kind
	context map[string]string
}

// fieldRule is the compiled form of one declared field.
type fieldRule struct {
	field  *schema.Field
	coerce coercer

	required bool
	unique   bool
	pattern  *regexp.Regexp
	minLen   *int
	maxLen   *int
	min      *Value
	max      *Value
	enum     map[string]bool
	enumList string
}

// lengthTypes are the types minLength and maxLength apply to.
var lengthTypes = map[schema.FieldType]bool{
	schema.TypeString: true,
	schema.TypeArray:  true,
	schema.TypeObject: true,
}

// orderedTypes are the types minimum and maximum apply to.
var orderedTypes = map[schema.FieldType]bool{
	schema.TypeNumber:    true,
	schema.TypeInteger:   true,
	schema.TypeDate:      true,
	schema.TypeTime:      true,
	schema.TypeDatetime:  true,
	schema.TypeYear:      true,
	schema.TypeYearMonth: true,
	schema.TypeDuration:  true,
}

// compileField builds the rule of f. Every problem is returned so a schema
// author sees them all at once.
func compileField(f *schema.Field) (*fieldRule, []string) {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("field %q: ", f.Name)+fmt.Sprintf(format, args...))
	}

	coerce, err := newCoercer(f)
	if err != nil {
		fail("%v", err)
		return nil, problems
	}

	c := f.Constraints
	r := &fieldRule{
		field:    f,
		coerce:   coerce,
		required: c.Required,
		unique:   c.Unique,
		minLen:   c.MinLength,
		maxLen:   c.MaxLength,
	}

	if c.Pattern != "" {
		// Patterns match the whole cell.
		re, err := regexp.Compile(`^(?:` + c.Pattern + `)$`)
		if err != nil {
			fail("invalid pattern: %v", err)
		}
		r.pattern = re
	}

	if (c.MinLength != nil || c.MaxLength != nil) && !lengthTypes[f.Type] {
		fail("minLength/maxLength do not apply to type %s", f.Type)
	}

	literal := func(name string, lit *schema.Literal) *Value {
		if lit == nil {
			return nil
		}
		if !orderedTypes[f.Type] {
			fail("%s does not apply to type %s", name, f.Type)
			return nil
		}
		v, err := coerce(string(*lit))
		if err != nil || v.ord == ordNone {
			fail("%s %q is not a valid %s", name, string(*lit), f.Type)
			return nil
		}
		return &v
	}
	r.min = literal("minimum", c.Minimum)
	r.max = literal("maximum", c.Maximum)

	if len(c.Enum) > 0 {
		r.enum = make(map[string]bool, len(c.Enum))
		names := make([]string, 0, len(c.Enum))
		for _, lit := range c.Enum {
			v, err := coerce(string(lit))
			if err != nil {
				fail("enum value %q is not a valid %s", string(lit), f.Type)
				continue
			}
			r.enum[v.Canon] = true
			names = append(names, string(lit))
		}
		r.enumList = strings.Join(names, ", ")
	}

	return r, problems
}

// check runs the cell pipeline on raw. missing tells whether raw is one
// of the schema's missing values.
func (r *fieldRule) check(raw string, missing bool) (Value, []finding) {
	if missing {
		if r.required {
			return Value{Raw: raw, Null: true}, []finding{{kind: report.KindRequired}}
		}
		return Value{Raw: raw, Null: true}, nil
	}

	v, err := r.coerce(raw)
	if err != nil {
		return Value{Raw: raw, Null: true}, []finding{{kind: report.KindType, context: map[string]string{
			"type":   string(r.field.Type),
			"format": r.field.Format,
			"reason": err.Error(),
		}}}
	}

	var out []finding
	if r.pattern != nil && !r.pattern.MatchString(raw) {
		out = append(out, finding{kind: report.KindPattern, context: map[string]string{
			"pattern": r.field.Constraints.Pattern,
		}})
	}

	if r.minLen != nil && v.Len < *r.minLen {
		out = append(out, finding{kind: report.KindRange, context: map[string]string{
			"constraint": "minLength",
			"limit":      strconv.Itoa(*r.minLen),
			"length":     strconv.Itoa(v.Len),
		}})
	}
	if r.maxLen != nil && v.Len > *r.maxLen {
		out = append(out, finding{kind: report.KindRange, context: map[string]string{
			"constraint": "maxLength",
			"limit":      strconv.Itoa(*r.maxLen),
			"length":     strconv.Itoa(v.Len),
		}})
	}
	if r.min != nil {
		if cmp, ok := compare(v, *r.min); ok && cmp < 0 {
			out = append(out, finding{kind: report.KindRange, context: map[string]string{
				"constraint": "minimum",
				"limit":      r.min.Raw,
			}})
		}
	}
	if r.max != nil {
		if cmp, ok := compare(v, *r.max); ok && cmp > 0 {
			out = append(out, finding{kind: report.KindRange, context: map[string]string{
				"constraint": "maximum",
				"limit":      r.max.Raw,
			}})
		}
	}

	if r.enum != nil && !r.enum[v.Canon] {
		out = append(out, finding{kind: report.KindEnum, context: map[string]string{
			"values": r.enumList,
		}})
	}

	return v, out
}
