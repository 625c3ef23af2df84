package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/validata/internal/engine"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "schema not found",
			err:      &schema.ResolutionError{Kind: schema.KindNotFound, Locator: "catalog:x"},
			wantCode: "SCH001",
		},
		{
			name:     "schema unreachable wrapped",
			err:      fmt.Errorf("resolve: %w", &schema.ResolutionError{Kind: schema.KindUnreachable}),
			wantCode: "SCH002",
		},
		{
			name:     "schema malformed",
			err:      &schema.ResolutionError{Kind: schema.KindMalformed},
			wantCode: "SCH003",
		},
		{
			name:     "schema invalid",
			err:      &schema.ResolutionError{Kind: schema.KindInvalid},
			wantCode: "SCH004",
		},
		{
			name:     "engine schema error",
			err:      &engine.SchemaError{Problems: []string{"bad minimum"}},
			wantCode: "SCH004",
		},
		{
			name:     "schema too large",
			err:      &schema.ResolutionError{Kind: schema.KindTooLarge},
			wantCode: "SCH005",
		},
		{
			name:     "source unreachable",
			err:      &source.SourceError{Kind: source.KindUnreachable},
			wantCode: "SRC001",
		},
		{
			name:     "source encoding",
			err:      &source.SourceError{Kind: source.KindUnsupportedEncoding},
			wantCode: "SRC002",
		},
		{
			name:     "source empty",
			err:      &source.SourceError{Kind: source.KindEmpty},
			wantCode: "SRC003",
		},
		{
			name:     "source too large",
			err:      &source.SourceError{Kind: source.KindTooLarge},
			wantCode: "SRC004",
		},
		{
			name:     "source malformed",
			err:      &source.SourceError{Kind: source.KindMalformed},
			wantCode: "SRC005",
		},
		{
			name:     "cancelled run",
			err:      &RunError{RunID: "r", Phase: PhaseStreaming, Err: context.Canceled},
			wantCode: "RUN001",
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("wait: %w", context.DeadlineExceeded),
			wantCode: "RUN002",
		},
		{
			name:     "limiter saturated",
			err:      &RunError{Phase: PhasePending, Err: ErrTooManyRuns},
			wantCode: "RUN003",
		},
		{
			name:     "broken stream",
			err:      &RunError{Phase: PhaseStreaming, Err: errors.New("read rows: read row 4: connection reset")},
			wantCode: "RUN004",
		},
		{
			name:     "untyped text falls back to patterns",
			err:      errors.New("Too Many Concurrent Validation Runs"),
			wantCode: "RUN003",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_Unwrapped(t *testing.T) {
	// A typed error wins over patterns found in its text.
	err := &source.SourceError{Kind: source.KindTooLarge, Detail: "read rows exceeded"}
	if got := MapError(err).Code; got != "SRC004" {
		t.Errorf("code = %q, want SRC004", got)
	}
}

func TestFormatUserError(t *testing.T) {
	err := &schema.ResolutionError{Kind: schema.KindNotFound}
	got := FormatUserError(err)

	want := "Schema not found (Code: SCH001). Check the schema name or URL"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrTooManyRuns, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := &source.SourceError{Kind: source.KindEmpty}
		userErr := NewUserError(techErr)

		if userErr.Error() != "The data has no rows" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, techErr) {
			t.Error("Unwrap() should return original error")
		}
		if got := MapError(fmt.Errorf("outer: %w", userErr)).Code; got != "SRC003" {
			t.Errorf("wrapped UserError code = %q, want SRC003", got)
		}
	})
}

func TestRunError(t *testing.T) {
	err := &RunError{RunID: "abc", Phase: PhaseStreaming, Err: context.Canceled}

	if !errors.Is(err, context.Canceled) {
		t.Error("RunError should unwrap to its cause")
	}
	want := "run abc failed while streaming: context canceled"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
