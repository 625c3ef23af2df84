package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 marks a row containing bytes that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 in row")

// Row is one data record. Index is 1-based and excludes the header.
type Row struct {
	Index int
	Line  int
	Cells []string
}

// RowDecodeError reports a record that could not be decoded. The reader
// has already moved past it.
type RowDecodeError struct {
	Row  int
	Line int
	Err  error
}

func (e *RowDecodeError) Error() string {
	return fmt.Sprintf("row %d (line %d): %v", e.Row, e.Line, e.Err)
}

func (e *RowDecodeError) Unwrap() error {
	return e.Err
}

// RowOptions refine header handling once the schema is known.
type RowOptions struct {
	// ExpectedHeader lists the schema field names. When the dialect was
	// sniffed as headerless but the first record contains one of these
	// names, the first record is treated as a header after all.
	ExpectedHeader []string
	IgnoreCase     bool
}

// Rows opens the single-pass row stream. It may be called once.
func (d *DataSource) Rows(opts RowOptions) (*RowReader, error) {
	if d.consumed {
		return nil, ErrConsumed
	}
	d.consumed = true

	if !d.Dialect.Header && !d.headerSet && matchesAny(d.prefix.first, opts.ExpectedHeader, opts.IgnoreCase) {
		d.Dialect.Header = true
		if d.prefix.complete && d.prefix.records == 1 {
			return nil, &SourceError{Kind: KindEmpty, Name: d.Name, Detail: "no rows after header"}
		}
	}

	cr := csv.NewReader(d.body)
	cr.Comma = d.Dialect.Delimiter
	cr.FieldsPerRecord = -1

	rr := &RowReader{
		csv:       cr,
		checkUTF8: d.Dialect.Encoding == "utf-8",
	}

	if d.Dialect.Header {
		header, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, &SourceError{Kind: KindEmpty, Name: d.Name, Detail: "no rows"}
			}
			return nil, &SourceError{Kind: KindMalformed, Name: d.Name, Detail: "header: " + err.Error(), Err: err}
		}
		for _, h := range header {
			if rr.checkUTF8 && !utf8.ValidString(h) {
				return nil, &SourceError{Kind: KindMalformed, Name: d.Name, Detail: "header is not valid UTF-8", Err: ErrInvalidUTF8}
			}
		}
		rr.header = header
	}

	return rr, nil
}

func matchesAny(cells, names []string, ignoreCase bool) bool {
	for _, c := range cells {
		c = strings.TrimSpace(c)
		for _, n := range names {
			if c == n || (ignoreCase && strings.EqualFold(c, n)) {
				return true
			}
		}
	}
	return false
}

// RowReader yields rows lazily.
type RowReader struct {
	csv       *csv.Reader
	header    []string
	index     int
	checkUTF8 bool
}

// Header returns the header record, or nil for headerless sources.
func (r *RowReader) Header() []string {
	return r.header
}

// Next returns the next row. It returns io.EOF after the last row and a
// *RowDecodeError for a record that could not be decoded; reading can
// continue after a RowDecodeError. Any other error ends the stream.
func (r *RowReader) Next() (Row, error) {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}

	var pe *csv.ParseError
	if err != nil {
		if errors.As(err, &pe) && isSyntaxError(pe.Err) {
			r.index++
			return Row{Index: r.index, Line: pe.StartLine},
				&RowDecodeError{Row: r.index, Line: pe.StartLine, Err: pe.Err}
		}
		return Row{}, fmt.Errorf("read row %d: %w", r.index+1, err)
	}

	r.index++
	line, _ := r.csv.FieldPos(0)
	row := Row{Index: r.index, Line: line, Cells: rec}

	if r.checkUTF8 {
		for _, c := range rec {
			if !utf8.ValidString(c) {
				return row, &RowDecodeError{Row: r.index, Line: line, Err: ErrInvalidUTF8}
			}
		}
	}
	return row, nil
}

func isSyntaxError(err error) bool {
	return errors.Is(err, csv.ErrQuote) || errors.Is(err, csv.ErrBareQuote) ||
		errors.Is(err, csv.ErrTrailingComma) || errors.Is(err, csv.ErrFieldCount)
}
