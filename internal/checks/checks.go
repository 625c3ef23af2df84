// Package checks implements the named row checks a schema can declare
// under custom_checks.
//
// A check is compiled once per run from its declaration, bound to the data
// header with Prepare, then called for every row. Checks read raw cells;
// a cell that is a schema missing value reads as empty.
package checks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/validata/internal/schema"
)

// Row gives a check access to the cells of the current row by column name.
type Row interface {
	// Value returns the raw cell. ok is false when the column is absent
	// from the data or the cell is a missing value.
	Value(column string) (value string, ok bool)
}

// Finding is one failed check. Column names the cell the finding is
// attributed to.
type Finding struct {
	Column  string
	Value   string
	Context map[string]string
}

// Check is a compiled custom check.
type Check interface {
	Name() string
	// Prepare binds the check to the columns present in the data. It
	// returns false when the check cannot run, optionally with a
	// file-level finding explaining why.
	Prepare(present func(column string) bool) (bool, *Finding)
	Validate(row Row) []Finding
}

// ConfigError reports a check declaration that cannot be compiled.
type ConfigError struct {
	Check  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("custom check %q: %s", e.Check, e.Detail)
}

type factory func(p params) (Check, error)

var registry = map[string]factory{
	"french-siren-value":       newSiren,
	"french-siret-value":       newSiret,
	"french-gps-coordinates":   newFrenchGPS,
	"nomenclature-actes-value": newNomenclatureActes,
	"year-interval-value":      newYearInterval,
	"compare-columns-value":    newCompareColumns,
	"sum-columns-value":        newSumColumns,
	"one-of-required":          newOneOfRequired,
	"cohesive-columns-value":   newCohesiveColumns,
	"phone-number-value":       newPhoneNumber,
	"opening-hours-value":      newOpeningHours,
}

// Names lists the available checks, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile builds the check declared by cc. declared reports whether a
// column is a field of the schema; every column a check names must be.
func Compile(cc schema.CustomCheck, declared func(string) bool) (Check, error) {
	f, ok := registry[cc.Name]
	if !ok {
		return nil, &ConfigError{Check: cc.Name, Detail: "unknown check"}
	}
	p := params{check: cc.Name, values: cc.Params, declared: declared}
	return f(p)
}

// params reads the free-form parameters of a declaration.
type params struct {
	check    string
	values   map[string]any
	declared func(string) bool
}

func (p params) fail(format string, args ...any) error {
	return &ConfigError{Check: p.check, Detail: fmt.Sprintf(format, args...)}
}

func (p params) str(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", p.fail("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", p.fail("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// column reads a parameter naming a schema field.
func (p params) column(key string) (string, error) {
	s, err := p.str(key)
	if err != nil {
		return "", err
	}
	if p.declared != nil && !p.declared(s) {
		return "", p.fail("column %q is not a schema field", s)
	}
	return s, nil
}

func (p params) columns(key string) ([]string, error) {
	v, ok := p.values[key]
	if !ok {
		return nil, p.fail("missing parameter %q", key)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, p.fail("parameter %q must be a list of column names", key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, p.fail("parameter %q must be a list of column names", key)
		}
		if p.declared != nil && !p.declared(s) {
			return nil, p.fail("column %q is not a schema field", s)
		}
		out = append(out, s)
	}
	return out, nil
}

// flag reads an optional boolean. Schemas in the wild write it as a
// string ("true", "yes") as often as a boolean.
func (p params) flag(key string) bool {
	switch v := p.values[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes":
			return true
		}
	}
	return false
}

// allPresent is the Prepare of checks that need every column.
func allPresent(present func(string) bool, cols ...string) bool {
	for _, c := range cols {
		if !present(c) {
			return false
		}
	}
	return true
}

// singleColumn carries the shared part of one-column checks: the check
// is skipped when its column is absent and empty cells are never checked.
type singleColumn struct {
	name   string
	column string
}

func (c singleColumn) Name() string {
	return c.name
}

func (c singleColumn) Prepare(present func(string) bool) (bool, *Finding) {
	return present(c.column), nil
}

func (c singleColumn) finding(value string, ctx map[string]string) []Finding {
	return []Finding{{Column: c.column, Value: value, Context: ctx}}
}

func newSingle(p params) (singleColumn, error) {
	col, err := p.column("column")
	if err != nil {
		return singleColumn{}, err
	}
	return singleColumn{name: p.check, column: col}, nil
}
