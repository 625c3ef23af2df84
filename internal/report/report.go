// Package report defines the validation report: the terminal, immutable
// artifact of a run. It is pure data with a stable JSON form so a renderer
// can display it without re-validating anything.
package report

import (
	"time"
)

// Status is the overall verdict of a run.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	// StatusError means the run could not validate at all because schema or
	// data resolution failed.
	StatusError Status = "error"
)

// Severity grades a single report entry.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Message keys for the report headline.
const (
	HeadlineValid   = "report.valid"
	HeadlineInvalid = "report.invalid"
	HeadlineError   = "report.not_validated"
)

// Report is the result of one validation run.
type Report struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Schema      SchemaRef `json:"schema"`
	Source      SourceRef `json:"source"`
	Counts      Counts    `json:"counts"`
	Errors      []Error   `json:"errors"`
	Failure     *Failure  `json:"failure,omitempty"`
	Badge       *Badge    `json:"badge,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// SchemaRef identifies the schema a run used.
type SchemaRef struct {
	Locator string   `json:"locator"`
	Fields  []string `json:"fields,omitempty"`
}

// SourceRef identifies the data source a run read.
type SourceRef struct {
	Origin    string `json:"origin"`
	Name      string `json:"name"`
	Delimiter string `json:"delimiter,omitempty"`
	Quote     string `json:"quote,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Header    bool   `json:"header"`
}

// Counts summarises a run.
type Counts struct {
	Rows     int          `json:"rows"`
	Errors   int          `json:"errors"`
	Warnings int          `json:"warnings"`
	Infos    int          `json:"infos"`
	ByKind   map[Kind]int `json:"byKind"`
}

// Failure explains why a run has StatusError.
type Failure struct {
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Code       string `json:"code"`
	MessageKey string `json:"messageKey"`
	Detail     string `json:"detail,omitempty"`
}

// Headline returns the message key summarising the verdict.
func (r *Report) Headline() string {
	switch r.Status {
	case StatusValid:
		return HeadlineValid
	case StatusInvalid:
		return HeadlineInvalid
	default:
		return HeadlineError
	}
}

// Valid reports whether the data conforms to the schema.
func (r *Report) Valid() bool {
	return r.Status == StatusValid
}

// Tally recomputes Counts from the errors and the given row count.
func Tally(rows int, errs []Error) Counts {
	c := Counts{Rows: rows, ByKind: make(map[Kind]int)}
	for _, e := range errs {
		c.ByKind[e.Kind]++
		switch e.Severity {
		case SeverityError:
			c.Errors++
		case SeverityWarning:
			c.Warnings++
		default:
			c.Infos++
		}
	}
	return c
}

// StatusOf derives the verdict from accumulated entries: any error-severity
// entry makes the data invalid, warnings and infos do not.
func StatusOf(errs []Error) Status {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return StatusInvalid
		}
	}
	return StatusValid
}

// NewFailed builds the report of a run whose resolution failed. No rows
// were read and no validation errors exist.
func NewFailed(id string, schema SchemaRef, src SourceRef, f Failure, at time.Time) *Report {
	return &Report{
		ID:          id,
		Status:      StatusError,
		Schema:      schema,
		Source:      src,
		Counts:      Counts{ByKind: map[Kind]int{}},
		Errors:      []Error{},
		Failure:     &f,
		GeneratedAt: at.UTC(),
	}
}
