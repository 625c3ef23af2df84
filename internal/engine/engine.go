// Package engine validates a stream of rows against a table schema and
// produces the report of the run.
//
// Validation is a single sequential pass. The header is bound to the schema
// first and every structural finding is emitted as a file-level entry; each
// row is then checked cell by cell, followed by the cross-row checks
// (uniqueness, primary key, foreign keys) and the custom checks. All state
// that outlives a row lives in one accumulator owned by the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/validata/internal/checks"
	"github.com/JonMunkholm/validata/internal/logging"
	"github.com/JonMunkholm/validata/internal/report"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// keySep joins the parts of a composite key.
const keySep = "\x1f"

// RowSource is the single-pass row stream the engine consumes.
// *source.RowReader implements it.
type RowSource interface {
	// Header returns the header record, or nil when the data has none.
	Header() []string
	// Next returns the next row, io.EOF at the end, or a
	// *source.RowDecodeError for a record that could not be decoded.
	Next() (source.Row, error)
}

// Options tune a run.
type Options struct {
	// StrictHeaderOrder turns header findings into errors and reports any
	// column order mismatch.
	StrictHeaderOrder bool
	// IgnoreHeaderCase matches header names to fields case-insensitively.
	IgnoreHeaderCase bool
	// MaxRows stops streaming after that many rows. 0 means unlimited.
	MaxRows int
	// References holds the tables foreign keys point at, by resource name.
	References map[string]*Reference
	// Progress, when set, receives the row count every ProgressInterval
	// rows while streaming.
	Progress func(rows int)
}

// ProgressInterval is how many rows pass between Progress calls.
const ProgressInterval = 1000

// SchemaError reports a schema the engine cannot validate with, such as a
// minimum that does not parse under its field's type.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "schema: " + strings.Join(e.Problems, "; ")
}

// Engine is a compiled schema. It is safe for concurrent use; every call to
// Validate owns its state.
type Engine struct {
	schema  *schema.Schema
	opts    Options
	rules   []*fieldRule
	byName  map[string]int
	checks  []checks.Check
	invalid []report.Error
}

// New compiles s.
func New(s *schema.Schema, opts Options) (*Engine, error) {
	e := &Engine{
		schema: s,
		opts:   opts,
		byName: make(map[string]int, len(s.Fields)),
	}

	var problems []string
	for i := range s.Fields {
		r, p := compileField(&s.Fields[i])
		problems = append(problems, p...)
		e.rules = append(e.rules, r)
		e.byName[s.Fields[i].Name] = i
	}

	resources := make([]string, 0, len(opts.References))
	for name := range opts.References {
		resources = append(resources, name)
	}
	sort.Strings(resources)
	for _, name := range resources {
		if err := s.CheckReference(name, opts.References[name].schema); err != nil {
			var re *schema.ResolutionError
			if errors.As(err, &re) {
				problems = append(problems, re.Detail)
			} else {
				problems = append(problems, err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return nil, &SchemaError{Problems: problems}
	}

	declared := func(name string) bool {
		_, ok := e.byName[name]
		return ok
	}
	for _, cc := range s.CustomChecks {
		c, err := checks.Compile(cc, declared)
		if err != nil {
			detail := err.Error()
			var ce *checks.ConfigError
			if errors.As(err, &ce) {
				detail = ce.Detail
			}
			e.invalid = append(e.invalid, report.Error{
				Kind:     report.KindCheckError,
				Severity: report.SeverityError,
				Context:  map[string]string{"check": cc.Name, "detail": detail},
			})
			continue
		}
		e.checks = append(e.checks, c)
	}

	return e, nil
}

// Validate streams rows and returns the report. A cancelled context stops
// the run between rows; the context error is returned and no report is
// produced. Any read error other than a row decode error ends the run the
// same way.
func (e *Engine) Validate(ctx context.Context, rows RowSource, src report.SourceRef) (*report.Report, error) {
	started := time.Now()
	acc := newAccumulator()

	for _, ce := range e.invalid {
		acc.add(ce)
	}

	b := e.bind(rows.Header(), acc)
	active := e.prepareChecks(b, acc)
	keys := e.prepareForeignKeys(b, acc)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var de *source.RowDecodeError
		if err != nil && !errors.As(err, &de) {
			return nil, fmt.Errorf("read rows: %w", err)
		}

		if e.opts.MaxRows > 0 && acc.rows >= e.opts.MaxRows {
			acc.add(report.Error{
				Kind:     report.KindRowLimit,
				Severity: report.SeverityWarning,
				Context:  map[string]string{"limit": strconv.Itoa(e.opts.MaxRows)},
			})
			break
		}
		acc.rows++
		if e.opts.Progress != nil && acc.rows%ProgressInterval == 0 {
			e.opts.Progress(acc.rows)
		}

		if de != nil {
			acc.add(report.Error{
				Kind:     report.KindRowDecode,
				Severity: report.SeverityError,
				Row:      de.Row,
				Context: map[string]string{
					"reason": de.Err.Error(),
					"line":   strconv.Itoa(de.Line),
				},
			})
			continue
		}

		e.checkRow(row, b, active, keys, acc)
	}

	for _, k := range keys {
		k.finish(acc)
	}

	rep := acc.report(e.schema, src)
	logging.FromContext(ctx).Debug("rows validated",
		"rows", rep.Counts.Rows,
		"errors", rep.Counts.Errors,
		"warnings", rep.Counts.Warnings,
		"duration", time.Since(started))
	return rep, nil
}

// Fields returns the compiled field names in schema order.
func (e *Engine) Fields() []string {
	return e.schema.FieldNames()
}

// ----------------------------------------------------------------------------
// Header binding
// ----------------------------------------------------------------------------

// binding maps schema fields to data columns.
type binding struct {
	// col is the column of each field, -1 when absent.
	col []int
	// width is the number of cells a row should have.
	width int

	byName map[string]int
}

func (b *binding) present(name string) bool {
	_, ok := b.byName[name]
	return ok
}

// field returns the index of the field a header name binds to, or -1.
func (e *Engine) field(name string) int {
	if i, ok := e.byName[name]; ok {
		return i
	}
	if e.opts.IgnoreHeaderCase {
		for i, f := range e.schema.Fields {
			if strings.EqualFold(f.Name, name) {
				return i
			}
		}
	}
	return -1
}

func (e *Engine) strictOr(sev report.Severity) report.Severity {
	if e.opts.StrictHeaderOrder {
		return report.SeverityError
	}
	return sev
}

// bind matches the header to the schema and reports missing, extra and
// misordered columns. Without a header, columns bind by position.
func (e *Engine) bind(header []string, acc *accumulator) *binding {
	fields := e.schema.Fields
	b := &binding{
		col:    make([]int, len(fields)),
		byName: make(map[string]int, len(fields)),
	}

	if header == nil {
		b.width = len(fields)
		for i, f := range fields {
			b.col[i] = i
			b.byName[f.Name] = i
		}
		return b
	}

	b.width = len(header)
	for i := range b.col {
		b.col[i] = -1
	}

	var extra []report.Error
	for j, h := range header {
		name := strings.TrimSpace(h)
		i := e.field(name)
		if i < 0 || b.col[i] >= 0 {
			extra = append(extra, report.Error{
				Kind:     report.KindExtraColumn,
				Severity: e.strictOr(report.SeverityWarning),
				Field:    name,
				Column:   j + 1,
			})
			continue
		}
		b.col[i] = j
		b.byName[fields[i].Name] = j
	}

	missing := 0
	for i, f := range fields {
		if b.col[i] >= 0 {
			continue
		}
		missing++
		sev := report.SeverityWarning
		if f.Constraints.Required {
			sev = report.SeverityError
		}
		acc.add(report.Error{
			Kind:     report.KindMissingColumn,
			Severity: e.strictOr(sev),
			Field:    f.Name,
		})
	}
	for _, x := range extra {
		acc.add(x)
	}

	if !inOrder(b.col) && (e.opts.StrictHeaderOrder || (missing == 0 && len(extra) == 0)) {
		acc.add(report.Error{
			Kind:     report.KindHeaderOrder,
			Severity: e.strictOr(report.SeverityWarning),
			Context: map[string]string{
				"expected": strings.Join(presentInSchemaOrder(fields, b.col), ", "),
				"actual":   strings.Join(presentInHeaderOrder(fields, b.col), ", "),
			},
		})
	}

	return b
}

// inOrder reports whether the bound columns follow schema order.
func inOrder(cols []int) bool {
	last := -1
	for _, c := range cols {
		if c < 0 {
			continue
		}
		if c < last {
			return false
		}
		last = c
	}
	return true
}

func presentInSchemaOrder(fields []schema.Field, cols []int) []string {
	var out []string
	for i, f := range fields {
		if cols[i] >= 0 {
			out = append(out, f.Name)
		}
	}
	return out
}

func presentInHeaderOrder(fields []schema.Field, cols []int) []string {
	idx := make([]int, 0, len(cols))
	for i, c := range cols {
		if c >= 0 {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return cols[idx[a]] < cols[idx[b]] })
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = fields[i].Name
	}
	return out
}

// ----------------------------------------------------------------------------
// Rows
// ----------------------------------------------------------------------------

// rowView exposes a row to custom checks.
type rowView struct {
	cells  []string
	b      *binding
	schema *schema.Schema
}

func (v rowView) Value(column string) (string, bool) {
	c, ok := v.b.byName[column]
	if !ok || c >= len(v.cells) {
		return "", false
	}
	raw := v.cells[c]
	if v.schema.Missing(raw) {
		return "", false
	}
	return raw, true
}

func (e *Engine) checkRow(row source.Row, b *binding, active []checks.Check, keys []*foreignKey, acc *accumulator) {
	cells := row.Cells

	for k := b.width; k < len(cells); k++ {
		acc.add(report.Error{
			Kind:     report.KindExtraCell,
			Severity: report.SeverityError,
			Row:      row.Index,
			Column:   k + 1,
			Value:    report.Raw(cells[k]),
		})
	}
	for i, c := range b.col {
		if c >= 0 && c >= len(cells) {
			acc.add(report.Error{
				Kind:     report.KindMissingCell,
				Severity: report.SeverityError,
				Row:      row.Index,
				Field:    e.schema.Fields[i].Name,
				Column:   c + 1,
			})
		}
	}

	// vals[i] is nil for fields with no cell in this row.
	vals := make([]*Value, len(e.rules))
	for i, r := range e.rules {
		c := b.col[i]
		if c < 0 || c >= len(cells) {
			continue
		}
		raw := cells[c]
		v, findings := r.check(raw, e.schema.Missing(raw))
		vals[i] = &v
		for _, f := range findings {
			acc.add(report.Error{
				Kind:     f.kind,
				Severity: report.SeverityError,
				Row:      row.Index,
				Field:    r.field.Name,
				Column:   c + 1,
				Value:    report.Raw(raw),
				Context:  f.context,
			})
		}
	}

	e.checkUnique(row.Index, b, vals, acc)
	e.checkPrimaryKey(row.Index, b, vals, acc)

	for _, k := range keys {
		k.check(row.Index, vals, acc)
	}

	if len(active) == 0 {
		return
	}
	view := rowView{cells: cells, b: b, schema: e.schema}
	for _, c := range active {
		for _, f := range c.Validate(view) {
			acc.add(customFinding(c.Name(), row.Index, b, f))
		}
	}
}

func (e *Engine) checkUnique(row int, b *binding, vals []*Value, acc *accumulator) {
	for i, r := range e.rules {
		v := vals[i]
		if !r.unique || v == nil || v.Null {
			continue
		}
		seen := acc.unique[i]
		if seen == nil {
			seen = make(map[string]int)
			acc.unique[i] = seen
		}
		if first, dup := seen[v.Canon]; dup {
			acc.add(report.Error{
				Kind:     report.KindUnique,
				Severity: report.SeverityError,
				Row:      row,
				Field:    r.field.Name,
				Column:   b.col[i] + 1,
				Value:    report.Raw(v.Raw),
				Context:  map[string]string{"firstRow": strconv.Itoa(first)},
			})
			continue
		}
		seen[v.Canon] = row
	}
}

func (e *Engine) checkPrimaryKey(row int, b *binding, vals []*Value, acc *accumulator) {
	pk := e.schema.PrimaryKey
	if len(pk) == 0 {
		return
	}
	if len(pk) == 1 && e.rules[e.byName[pk[0]]].unique {
		return
	}

	canon := make([]string, len(pk))
	raw := make([]string, len(pk))
	for k, name := range pk {
		v := vals[e.byName[name]]
		if v == nil || v.Null {
			return
		}
		canon[k] = v.Canon
		raw[k] = v.Raw
	}

	key := strings.Join(canon, keySep)
	if first, dup := acc.pk[key]; dup {
		acc.add(report.Error{
			Kind:     report.KindUnique,
			Severity: report.SeverityError,
			Row:      row,
			Field:    strings.Join(pk, ", "),
			Column:   b.col[e.byName[pk[0]]] + 1,
			Value:    report.Raw(strings.Join(raw, ", ")),
			Context: map[string]string{
				"firstRow":   strconv.Itoa(first),
				"primaryKey": strings.Join(pk, ", "),
			},
		})
		return
	}
	acc.pk[key] = row
}

// ----------------------------------------------------------------------------
// Custom checks
// ----------------------------------------------------------------------------

func (e *Engine) prepareChecks(b *binding, acc *accumulator) []checks.Check {
	var active []checks.Check
	for _, c := range e.checks {
		ok, f := c.Prepare(b.present)
		if f != nil {
			acc.add(customFinding(c.Name(), 0, b, *f))
		}
		if ok {
			active = append(active, c)
		}
	}
	return active
}

func customFinding(name string, row int, b *binding, f checks.Finding) report.Error {
	ctx := make(map[string]string, len(f.Context)+1)
	for k, v := range f.Context {
		ctx[k] = v
	}
	ctx["check"] = name

	e := report.Error{
		Kind:       report.KindCustomCheck,
		Severity:   report.SeverityError,
		Row:        row,
		Field:      f.Column,
		MessageKey: report.KindCustomCheck.MessageKey() + "." + name,
		Context:    ctx,
	}
	if c, ok := b.byName[f.Column]; ok {
		e.Column = c + 1
	}
	if row > 0 {
		e.Value = report.Raw(f.Value)
	}
	return e
}

// ----------------------------------------------------------------------------
// Accumulator
// ----------------------------------------------------------------------------

// accumulator is the state of one run.
type accumulator struct {
	rows   int
	errs   []report.Error
	unique map[int]map[string]int
	pk     map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		errs:   []report.Error{},
		unique: make(map[int]map[string]int),
		pk:     make(map[string]int),
	}
}

func (a *accumulator) add(e report.Error) {
	if e.MessageKey == "" {
		e.MessageKey = e.Kind.MessageKey()
	}
	a.errs = append(a.errs, e)
}

func (a *accumulator) report(s *schema.Schema, src report.SourceRef) *report.Report {
	report.Sort(a.errs)
	return &report.Report{
		ID:     uuid.NewString(),
		Status: report.StatusOf(a.errs),
		Schema: report.SchemaRef{
			Locator: s.Locator,
			Fields:  s.FieldNames(),
		},
		Source:      src,
		Counts:      report.Tally(a.rows, a.errs),
		Errors:      a.errs,
		GeneratedAt: time.Now().UTC(),
	}
}
