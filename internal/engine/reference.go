package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JonMunkholm/validata/internal/report"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// Reference is a table foreign keys point at, reduced to the key tuples it
// contains. Tuples hold canonical values so "1.0" in one table matches "1"
// in the other when both fields are numeric.
type Reference struct {
	schema *schema.Schema
	// keys maps a joined list of field names to the set of joined tuples.
	keys map[string]map[string]bool
}

// ErrReferenceMismatch marks a reference table that lacks a key field or
// column the foreign keys need.
var ErrReferenceMismatch = errors.New("reference table does not match its keys")

// ReferenceKeys returns the field lists of s's foreign keys that target
// resource, for LoadReference.
func ReferenceKeys(s *schema.Schema, resource string) [][]string {
	var out [][]string
	for _, fk := range s.ForeignKeys {
		if fk.Reference.Resource == resource {
			out = append(out, fk.Reference.Fields)
		}
	}
	return out
}

// LoadReference reads the rows of a referenced table and keeps the tuples of
// each requested key. Rows that fail to decode and tuples with a missing or
// unparseable part are left out.
func LoadReference(ctx context.Context, ref *schema.Schema, rows RowSource, keys ...[]string) (*Reference, error) {
	coercers := make([]coercer, len(ref.Fields))
	idx := make([][]int, len(keys))
	for k, fields := range keys {
		for _, name := range fields {
			i := -1
			for j := range ref.Fields {
				if ref.Fields[j].Name == name {
					i = j
					break
				}
			}
			if i < 0 {
				return nil, fmt.Errorf("%w: key field %q is not declared", ErrReferenceMismatch, name)
			}
			if coercers[i] == nil {
				c, err := newCoercer(&ref.Fields[i])
				if err != nil {
					return nil, fmt.Errorf("reference field %q: %w", name, err)
				}
				coercers[i] = c
			}
			idx[k] = append(idx[k], i)
		}
	}

	// Columns bind by name when the table has a header, by position otherwise.
	col := make([]int, len(ref.Fields))
	if header := rows.Header(); header != nil {
		for i := range col {
			col[i] = -1
		}
		for j, h := range header {
			name := strings.TrimSpace(h)
			for i, f := range ref.Fields {
				if f.Name == name && col[i] < 0 {
					col[i] = j
				}
			}
		}
	} else {
		for i := range col {
			col[i] = i
		}
	}
	for k := range keys {
		for _, i := range idx[k] {
			if col[i] < 0 {
				return nil, fmt.Errorf("%w: column %q is absent from the data", ErrReferenceMismatch, ref.Fields[i].Name)
			}
		}
	}

	r := &Reference{schema: ref, keys: make(map[string]map[string]bool, len(keys))}
	for _, fields := range keys {
		r.keys[strings.Join(fields, keySep)] = make(map[string]bool)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var de *source.RowDecodeError
			if errors.As(err, &de) {
				continue
			}
			return nil, fmt.Errorf("read reference rows: %w", err)
		}

	tuples:
		for k, fields := range keys {
			parts := make([]string, len(idx[k]))
			for p, i := range idx[k] {
				c := col[i]
				if c >= len(row.Cells) || ref.Missing(row.Cells[c]) {
					continue tuples
				}
				v, err := coercers[i](row.Cells[c])
				if err != nil {
					continue tuples
				}
				parts[p] = v.Canon
			}
			r.keys[strings.Join(fields, keySep)][strings.Join(parts, keySep)] = true
		}
	}

	return r, nil
}

// Has reports whether the table contains tuple under the given key fields.
func (r *Reference) Has(fields, tuple []string) bool {
	set, ok := r.keys[strings.Join(fields, keySep)]
	if !ok {
		return false
	}
	return set[strings.Join(tuple, keySep)]
}

// Len returns the number of distinct tuples kept for the key fields.
func (r *Reference) Len(fields []string) int {
	return len(r.keys[strings.Join(fields, keySep)])
}

// ----------------------------------------------------------------------------
// Foreign key checks
// ----------------------------------------------------------------------------

// foreignKey is one foreign key bound to the data of a run.
type foreignKey struct {
	fk     schema.ForeignKey
	local  []int
	column int
	ref    *Reference

	// Self references: seen holds the target tuples met so far, pending
	// the rows whose local tuple has not been met yet. A tuple leaves
	// pending as soon as it is seen; the rest are violations at the end.
	self    bool
	target  []int
	seen    map[string]bool
	pending map[string][]pendingRow
}

type pendingRow struct {
	row int
	raw string
}

// prepareForeignKeys binds every foreign key whose local columns are present.
// A key pointing at a resource that was not supplied is reported once and
// skipped.
func (e *Engine) prepareForeignKeys(b *binding, acc *accumulator) []*foreignKey {
	var out []*foreignKey
	for _, fk := range e.schema.ForeignKeys {
		if !fk.SelfReference() && e.opts.References[fk.Reference.Resource] == nil {
			acc.add(report.Error{
				Kind:     report.KindForeignKeySkipped,
				Severity: report.SeverityInfo,
				Field:    strings.Join(fk.Fields, ", "),
				Context: map[string]string{
					"resource": fk.Reference.Resource,
					"fields":   strings.Join(fk.Reference.Fields, ", "),
				},
			})
			continue
		}

		k := &foreignKey{fk: fk, self: fk.SelfReference()}
		bound := true
		for _, name := range fk.Fields {
			if !b.present(name) {
				bound = false
			}
			k.local = append(k.local, e.byName[name])
		}
		if k.self {
			for _, name := range fk.Reference.Fields {
				if !b.present(name) {
					bound = false
				}
				k.target = append(k.target, e.byName[name])
			}
			k.seen = make(map[string]bool)
			k.pending = make(map[string][]pendingRow)
		} else {
			k.ref = e.opts.References[fk.Reference.Resource]
		}
		if !bound {
			continue
		}
		k.column = b.col[k.local[0]] + 1
		out = append(out, k)
	}
	return out
}

// tuple joins the canonical values of the given fields. ok is false when one
// of them is absent or null.
func tuple(vals []*Value, fields []int) (canon, raw string, ok bool) {
	c := make([]string, len(fields))
	r := make([]string, len(fields))
	for p, i := range fields {
		v := vals[i]
		if v == nil || v.Null {
			return "", "", false
		}
		c[p] = v.Canon
		r[p] = v.Raw
	}
	return strings.Join(c, keySep), strings.Join(r, ", "), true
}

func (k *foreignKey) check(row int, vals []*Value, acc *accumulator) {
	if k.self {
		if t, _, ok := tuple(vals, k.target); ok {
			k.seen[t] = true
			delete(k.pending, t)
		}
		if t, raw, ok := tuple(vals, k.local); ok && !k.seen[t] {
			k.pending[t] = append(k.pending[t], pendingRow{row: row, raw: raw})
		}
		return
	}

	t, raw, ok := tuple(vals, k.local)
	if !ok {
		return
	}
	if !k.ref.keys[strings.Join(k.fk.Reference.Fields, keySep)][t] {
		acc.add(k.violation(row, raw))
	}
}

// finish reports the self references never met, in row order.
func (k *foreignKey) finish(acc *accumulator) {
	var rows []pendingRow
	for _, p := range k.pending {
		rows = append(rows, p...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].row < rows[j].row })
	for _, p := range rows {
		acc.add(k.violation(p.row, p.raw))
	}
	k.pending = nil
}

func (k *foreignKey) violation(row int, raw string) report.Error {
	return report.Error{
		Kind:     report.KindForeignKey,
		Severity: report.SeverityError,
		Row:      row,
		Field:    strings.Join(k.fk.Fields, ", "),
		Column:   k.column,
		Value:    report.Raw(raw),
		Context: map[string]string{
			"resource": k.fk.Reference.Resource,
			"fields":   strings.Join(k.fk.Reference.Fields, ", "),
		},
	}
}
