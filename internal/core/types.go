package core

import (
	"time"

	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// Phase indicates the current stage of a validation run.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseResolving Phase = "resolving"
	PhaseStreaming Phase = "streaming"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether no further phase follows.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Progress represents the current state of a run.
type Progress struct {
	RunID  string
	Phase  Phase
	Schema string // schema locator
	Source string // data source name
	Rows   int    // rows validated so far
	Error  string // Non-empty if Phase is PhaseFailed
}

// ProgressCallback is called on every phase transition of a run, and
// periodically with the row count while streaming.
type ProgressCallback func(Progress)

// Request is one validation run: a schema, a data source and options.
type Request struct {
	Schema  schema.Locator
	Data    source.Locator
	Options Options

	// Progress, when set, receives phase transitions and row counts.
	Progress ProgressCallback
}

// Options tune a single run. Zero values fall back to the service defaults.
type Options struct {
	StrictHeaderOrder bool
	IgnoreHeaderCase  bool

	MaxFetchBytes int64
	FetchTimeout  time.Duration
	MaxRows       int

	// ForeignKeySchema and ForeignKeyData describe the table foreign keys
	// of the schema point at. ForeignKeyResource names it; empty selects
	// the resource of the schema's first foreign key.
	ForeignKeySchema   *schema.Locator
	ForeignKeyData     *source.Locator
	ForeignKeyResource string

	// Dialect overrides for the data source.
	Encoding  string
	Delimiter rune
	Header    *bool
}
