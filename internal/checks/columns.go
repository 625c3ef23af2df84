package checks

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	yearIntervalRe = regexp.MustCompile(`^(\d{4})/(\d{4})$`)
	yearRe         = regexp.MustCompile(`^\d{4}$`)
	integerRe      = regexp.MustCompile(`^[+-]?\d+$`)
)

type yearIntervalCheck struct {
	singleColumn
	allowYearOnly bool
}

func newYearInterval(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return yearIntervalCheck{singleColumn: s, allowYearOnly: p.flag("allow-year-only")}, nil
}

func (c yearIntervalCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	m := yearIntervalRe.FindStringSubmatch(v)
	if m == nil {
		if c.allowYearOnly && yearRe.MatchString(v) {
			return nil
		}
		return c.finding(v, map[string]string{"reason": "format"})
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	switch {
	case first == second:
		return c.finding(v, map[string]string{"reason": "same-year"})
	case first > second:
		return c.finding(v, map[string]string{"reason": "order"})
	}
	return nil
}

// compareOps are the operators compare-columns-value accepts.
var compareOps = map[string]bool{">": true, ">=": true, "==": true, "<=": true, "<": true}

type compareColumnsCheck struct {
	column, column2 string
	op              string
	numeric, text   *vm.Program
}

func newCompareColumns(p params) (Check, error) {
	col, err := p.column("column")
	if err != nil {
		return nil, err
	}
	col2, err := p.column("column2")
	if err != nil {
		return nil, err
	}
	op, err := p.str("op")
	if err != nil {
		return nil, err
	}
	if !compareOps[op] {
		return nil, p.fail("unsupported operator %q", op)
	}

	source := "a " + op + " b"
	numeric, err := expr.Compile(source, expr.Env(map[string]any{"a": 0.0, "b": 0.0}), expr.AsBool())
	if err != nil {
		return nil, p.fail("compile %q: %v", source, err)
	}
	text, err := expr.Compile(source, expr.Env(map[string]any{"a": "", "b": ""}), expr.AsBool())
	if err != nil {
		return nil, p.fail("compile %q: %v", source, err)
	}
	return &compareColumnsCheck{column: col, column2: col2, op: op, numeric: numeric, text: text}, nil
}

func (c *compareColumnsCheck) Name() string { return "compare-columns-value" }

func (c *compareColumnsCheck) Prepare(present func(string) bool) (bool, *Finding) {
	return allPresent(present, c.column, c.column2), nil
}

// Validate compares numerically when both cells are numbers and
// lexicographically when neither is. A number against text is reported
// as not comparable.
func (c *compareColumnsCheck) Validate(row Row) []Finding {
	v1, ok1 := row.Value(c.column)
	v2, ok2 := row.Value(c.column2)
	if !ok1 || !ok2 {
		return nil
	}

	ctx := map[string]string{"column2": c.column2, "value2": v2, "op": c.op}
	f1, err1 := strconv.ParseFloat(strings.TrimSpace(v1), 64)
	f2, err2 := strconv.ParseFloat(strings.TrimSpace(v2), 64)

	var program *vm.Program
	var env map[string]any
	switch {
	case err1 == nil && err2 == nil:
		program, env = c.numeric, map[string]any{"a": f1, "b": f2}
	case err1 != nil && err2 != nil:
		program, env = c.text, map[string]any{"a": v1, "b": v2}
	default:
		ctx["reason"] = "not-comparable"
		return []Finding{{Column: c.column, Value: v1, Context: ctx}}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		ctx["reason"] = "not-comparable"
		return []Finding{{Column: c.column, Value: v1, Context: ctx}}
	}
	if holds, _ := out.(bool); !holds {
		ctx["reason"] = "comparison"
		return []Finding{{Column: c.column, Value: v1, Context: ctx}}
	}
	return nil
}

type sumColumnsCheck struct {
	column  string
	columns []string
}

func newSumColumns(p params) (Check, error) {
	col, err := p.column("column")
	if err != nil {
		return nil, err
	}
	cols, err := p.columns("columns")
	if err != nil {
		return nil, err
	}
	if len(cols) < 2 {
		return nil, p.fail("at least two columns are needed to sum")
	}
	return &sumColumnsCheck{column: col, columns: cols}, nil
}

func (c *sumColumnsCheck) Name() string { return "sum-columns-value" }

func (c *sumColumnsCheck) Prepare(present func(string) bool) (bool, *Finding) {
	return allPresent(present, append([]string{c.column}, c.columns...)...), nil
}

// Validate runs only when every involved cell holds an integer; other
// values are the business of the field types.
func (c *sumColumnsCheck) Validate(row Row) []Finding {
	total, ok := row.Value(c.column)
	if !ok || !integerRe.MatchString(strings.TrimSpace(total)) {
		return nil
	}
	want, _ := new(big.Int).SetString(strings.TrimSpace(total), 10)

	sum := new(big.Int)
	for _, col := range c.columns {
		v, ok := row.Value(col)
		if !ok || !integerRe.MatchString(strings.TrimSpace(v)) {
			return nil
		}
		n, _ := new(big.Int).SetString(strings.TrimSpace(v), 10)
		sum.Add(sum, n)
	}

	if sum.Cmp(want) != 0 {
		return []Finding{{Column: c.column, Value: total, Context: map[string]string{
			"columns": strings.Join(c.columns, ", "),
			"sum":     sum.String(),
		}}}
	}
	return nil
}

type oneOfRequiredCheck struct {
	column1, column2 string
}

func newOneOfRequired(p params) (Check, error) {
	c1, err := p.str("column1")
	if err != nil {
		return nil, err
	}
	c2, err := p.str("column2")
	if err != nil {
		return nil, err
	}
	return &oneOfRequiredCheck{column1: c1, column2: c2}, nil
}

func (c *oneOfRequiredCheck) Name() string { return "one-of-required" }

// Prepare fails the file when both columns are absent. With one of them
// present, its cells must all be valued.
func (c *oneOfRequiredCheck) Prepare(present func(string) bool) (bool, *Finding) {
	if !present(c.column1) && !present(c.column2) {
		return false, &Finding{Column: c.column1, Context: map[string]string{
			"reason":  "missing-columns",
			"column2": c.column2,
		}}
	}
	return true, nil
}

func (c *oneOfRequiredCheck) Validate(row Row) []Finding {
	_, ok1 := row.Value(c.column1)
	_, ok2 := row.Value(c.column2)
	if ok1 || ok2 {
		return nil
	}
	return []Finding{{Column: c.column1, Context: map[string]string{
		"reason":  "none-valued",
		"column2": c.column2,
	}}}
}

type cohesiveColumnsCheck struct {
	column string
	others []string
}

func newCohesiveColumns(p params) (Check, error) {
	col, err := p.column("column")
	if err != nil {
		return nil, err
	}
	others, err := p.columns("othercolumns")
	if err != nil {
		return nil, err
	}
	if len(others) == 0 {
		return nil, p.fail("othercolumns is empty")
	}
	return &cohesiveColumnsCheck{column: col, others: others}, nil
}

func (c *cohesiveColumnsCheck) Name() string { return "cohesive-columns-value" }

func (c *cohesiveColumnsCheck) Prepare(present func(string) bool) (bool, *Finding) {
	return allPresent(present, append([]string{c.column}, c.others...)...), nil
}

func (c *cohesiveColumnsCheck) Validate(row Row) []Finding {
	v, valued := row.Value(c.column)
	for _, col := range c.others {
		if _, ok := row.Value(col); ok != valued {
			return []Finding{{Column: c.column, Value: v, Context: map[string]string{
				"columns": strings.Join(append([]string{c.column}, c.others...), ", "),
			}}}
		}
	}
	return nil
}

