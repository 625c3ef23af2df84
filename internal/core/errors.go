package core

// # Error Codes Reference
//
// This file maps run failures to user-facing messages with codes for
// support reference. Users quote the code; support looks it up here.
//
// # Schema Errors (SCH001-SCH099)
//
// Errors raised while obtaining or parsing the schema:
//
//	SCH001 - Schema not found: No catalog entry or document at that location
//	         Action: Check the schema name or URL
//	         Source: schema.ResolutionError kind "not-found"
//
//	SCH002 - Schema unreachable: The schema could not be downloaded
//	         Action: Check the URL and try again later
//	         Source: schema.ResolutionError kind "unreachable"
//
//	SCH003 - Schema malformed: The document is not valid JSON or YAML
//	         Action: Fix the syntax of the schema document
//	         Source: schema.ResolutionError kind "malformed"
//
//	SCH004 - Schema invalid: The document is not a usable table schema
//	         Action: Review the reported problems in the schema
//	         Source: schema.ResolutionError kind "invalid", engine.SchemaError
//
//	SCH005 - Schema too large: The document exceeds the size limit
//	         Action: Use a smaller schema or raise the fetch limit
//	         Source: schema.ResolutionError kind "too-large"
//
// # Source Errors (SRC001-SRC099)
//
// Errors raised while opening or sniffing the data:
//
//	SRC001 - Data unreachable: The data could not be downloaded
//	         Action: Check the URL and try again later
//	         Source: source.SourceError kind "unreachable"
//
//	SRC002 - Unsupported encoding: The data is not in a readable encoding
//	         Action: Save the file as UTF-8
//	         Source: source.SourceError kind "unsupported-encoding"
//
//	SRC003 - Empty data: The data has no rows
//	         Action: Provide a file with at least one data row
//	         Source: source.SourceError kind "empty"
//
//	SRC004 - Data too large: The data exceeds the size limit
//	         Action: Split the file or raise the fetch limit
//	         Source: source.SourceError kind "too-large"
//
//	SRC005 - Data malformed: The header record could not be read
//	         Action: Check the quoting of the first line
//	         Source: source.SourceError kind "malformed"
//
// # Run Errors (RUN001-RUN099)
//
// Errors that abort a run without a report:
//
//	RUN001 - Run cancelled
//	         Action: Start the validation again
//	         Source: context.Canceled
//
//	RUN002 - Run timed out
//	         Action: Try a smaller file or a longer timeout
//	         Source: context.DeadlineExceeded
//
//	RUN003 - System busy: Too many validations in progress
//	         Action: Please wait a moment and try again
//	         Source: ErrTooManyRuns
//
//	RUN004 - Read failure: The data stream broke while rows were read
//	         Action: Try again; check the connection to the data host
//	         Patterns: "read rows"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Matching
//
// Typed errors are matched first with errors.As and errors.Is, so the code
// survives any amount of wrapping. Untyped errors fall back to
// case-insensitive substring patterns; the first matching pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/validata/internal/engine"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var schemaMessages = map[schema.ErrorKind]UserMessage{
	schema.KindNotFound: {
		Message: "Schema not found",
		Action:  "Check the schema name or URL",
		Code:    "SCH001",
	},
	schema.KindUnreachable: {
		Message: "The schema could not be downloaded",
		Action:  "Check the URL and try again later",
		Code:    "SCH002",
	},
	schema.KindMalformed: {
		Message: "The schema is not valid JSON or YAML",
		Action:  "Fix the syntax of the schema document",
		Code:    "SCH003",
	},
	schema.KindInvalid: {
		Message: "The schema is not a usable table schema",
		Action:  "Review the reported problems in the schema",
		Code:    "SCH004",
	},
	schema.KindTooLarge: {
		Message: "The schema exceeds the size limit",
		Action:  "Use a smaller schema or raise the fetch limit",
		Code:    "SCH005",
	},
}

var sourceMessages = map[source.ErrorKind]UserMessage{
	source.KindUnreachable: {
		Message: "The data could not be downloaded",
		Action:  "Check the URL and try again later",
		Code:    "SRC001",
	},
	source.KindUnsupportedEncoding: {
		Message: "The data is not in a readable encoding",
		Action:  "Save the file as UTF-8",
		Code:    "SRC002",
	},
	source.KindEmpty: {
		Message: "The data has no rows",
		Action:  "Provide a file with at least one data row",
		Code:    "SRC003",
	},
	source.KindTooLarge: {
		Message: "The data exceeds the size limit",
		Action:  "Split the file or raise the fetch limit",
		Code:    "SRC004",
	},
	source.KindMalformed: {
		Message: "The header record could not be read",
		Action:  "Check the quoting of the first line",
		Code:    "SRC005",
	},
}

var (
	msgCancelled = UserMessage{
		Message: "Validation was cancelled",
		Action:  "Start the validation again",
		Code:    "RUN001",
	}
	msgTimeout = UserMessage{
		Message: "Validation timed out",
		Action:  "Try a smaller file or a longer timeout",
		Code:    "RUN002",
	}
	msgBusy = UserMessage{
		Message: "System is busy with other validations",
		Action:  "Please wait a moment and try again",
		Code:    "RUN003",
	}
	msgReadFailure = UserMessage{
		Message: "The data stream broke while rows were read",
		Action:  "Try again and check the connection to the data host",
		Code:    "RUN004",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that lost their type, e.g. after crossing a
// process boundary as text. Order matters: specific before general.
var errorPatterns = []errorPattern{
	{pattern: "too many concurrent validation runs", msg: msgBusy},
	{pattern: "read rows", msg: msgReadFailure},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "deadline exceeded", msg: msgTimeout},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error maps to the zero UserMessage.
//
// Example:
//
//	_, err := resolver.Resolve(ctx, schema.Locator{Name: "nope"}, lim)
//	msg := MapError(err)
//	// msg.Code == "SCH001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	var re *schema.ResolutionError
	if errors.As(err, &re) {
		if msg, ok := schemaMessages[re.Kind]; ok {
			return msg
		}
	}
	var se *engine.SchemaError
	if errors.As(err, &se) {
		return schemaMessages[schema.KindInvalid]
	}
	var de *source.SourceError
	if errors.As(err, &de) {
		if msg, ok := sourceMessages[de.Kind]; ok {
			return msg
		}
	}

	switch {
	case errors.Is(err, ErrTooManyRuns):
		return msgBusy
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// RunError is a failure that ends a run without a report: cancellation,
// limiter saturation or a broken stream.
type RunError struct {
	RunID string
	Phase Phase
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed while %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
