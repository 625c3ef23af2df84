package report

import (
	"fmt"
	"sort"
)

// Kind classifies a validation entry.
type Kind string

// File-level kinds (Row == 0).
const (
	KindMissingColumn     Kind = "missing-column"
	KindExtraColumn       Kind = "extra-column"
	KindHeaderOrder       Kind = "header-order"
	KindForeignKeySkipped Kind = "foreign-key-skipped"
	KindCheckError        Kind = "check-error"
	KindRowLimit          Kind = "row-limit"
)

// Row-level kinds.
const (
	KindRowDecode   Kind = "row-decode-error"
	KindExtraCell   Kind = "extra-cell"
	KindMissingCell Kind = "missing-cell"
	KindType        Kind = "type-error"
	KindRequired    Kind = "required-constraint"
	KindPattern     Kind = "pattern-constraint"
	KindRange       Kind = "range-constraint"
	KindEnum        Kind = "enumerable-constraint"
	KindUnique      Kind = "unique-constraint"
	KindForeignKey  Kind = "foreign-key-error"
	KindCustomCheck Kind = "custom-check"
)

// Structural reports whether the kind concerns the table structure rather
// than cell values.
func (k Kind) Structural() bool {
	switch k {
	case KindMissingColumn, KindExtraColumn, KindHeaderOrder, KindRowDecode,
		KindExtraCell, KindMissingCell:
		return true
	}
	return false
}

// MessageKey is the default message key for entries of this kind.
func (k Kind) MessageKey() string {
	return "validation." + string(k)
}

// Error is one validation finding. Row 0 marks a file-level entry.
type Error struct {
	Kind       Kind              `json:"kind"`
	Severity   Severity          `json:"severity"`
	Row        int               `json:"row,omitempty"`
	Field      string            `json:"field,omitempty"`
	Column     int               `json:"column,omitempty"`
	Value      *string           `json:"value,omitempty"`
	MessageKey string            `json:"messageKey"`
	Context    map[string]string `json:"context,omitempty"`
}

// FileLevel reports whether the entry applies to the whole file.
func (e Error) FileLevel() bool {
	return e.Row == 0
}

// Error implements error so entries can be logged and compared directly.
func (e Error) Error() string {
	loc := "file"
	if !e.FileLevel() {
		loc = fmt.Sprintf("row %d", e.Row)
	}
	if e.Field != "" {
		loc += fmt.Sprintf(", field %q", e.Field)
	}
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value %q)", loc, e.Kind, *e.Value)
	}
	return fmt.Sprintf("%s: %s", loc, e.Kind)
}

// Raw returns a pointer to a copy of s, for Error.Value.
func Raw(s string) *string {
	return &s
}

// Sort orders entries file-level first, then by row ascending. Entries of
// the same row keep their emission order.
func Sort(errs []Error) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Row < errs[j].Row
	})
}
