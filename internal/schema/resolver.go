package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/validata/internal/fetch"
)

// ErrorKind classifies a resolution failure.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not-found"
	KindUnreachable ErrorKind = "unreachable"
	KindMalformed   ErrorKind = "malformed"
	KindInvalid     ErrorKind = "invalid"
	KindTooLarge    ErrorKind = "too-large"
)

// ResolutionError reports why a schema could not be obtained.
type ResolutionError struct {
	Kind    ErrorKind
	Locator string
	Detail  string
	Err     error
}

func (e *ResolutionError) Error() string {
	msg := "schema"
	if e.Locator != "" {
		msg += " " + e.Locator
	}
	msg += ": " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Catalog maps well-known schema names to URLs.
type Catalog interface {
	Lookup(name string) (string, bool)
}

// Locator names a schema in exactly one way.
type Locator struct {
	Name     string // catalog name
	URL      string
	Body     []byte // uploaded document
	Filename string // upload name, informational
}

// String describes the locator for reports and logs.
func (l Locator) String() string {
	switch {
	case l.Name != "":
		return "catalog:" + l.Name
	case l.URL != "":
		return l.URL
	case l.Filename != "":
		return "upload:" + l.Filename
	default:
		return "upload"
	}
}

func (l Locator) count() int {
	n := 0
	if l.Name != "" {
		n++
	}
	if l.URL != "" {
		n++
	}
	if l.Body != nil {
		n++
	}
	return n
}

// Resolver turns locators into schemas.
type Resolver struct {
	catalog Catalog
	fetcher fetch.Fetcher
}

// NewResolver creates a resolver. cat may be nil when no catalog is
// configured; every name lookup then fails with NotFound.
func NewResolver(cat Catalog, f fetch.Fetcher) *Resolver {
	return &Resolver{catalog: cat, fetcher: f}
}

// Resolve fetches (when needed), parses and validates a schema.
// Failures are *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, loc Locator, lim fetch.Limits) (*Schema, error) {
	if loc.count() != 1 {
		return nil, &ResolutionError{Kind: KindInvalid, Locator: loc.String(),
			Detail: "locator must set exactly one of name, url or body"}
	}

	body := loc.Body
	if body == nil {
		url := loc.URL
		if loc.Name != "" {
			var ok bool
			if r.catalog != nil {
				url, ok = r.catalog.Lookup(loc.Name)
			}
			if !ok {
				return nil, &ResolutionError{Kind: KindNotFound, Locator: loc.String(),
					Detail: fmt.Sprintf("no catalog entry named %q", loc.Name)}
			}
		}

		data, err := r.fetcher.Fetch(ctx, url, lim)
		if err != nil {
			return nil, fetchFailure(loc, err)
		}
		body = data
	}

	s, err := Parse(body)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			re.Locator = loc.String()
		}
		return nil, err
	}
	s.Locator = loc.String()
	return s, nil
}

func fetchFailure(loc Locator, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindUnreachable
	var fe *fetch.Error
	switch {
	case errors.Is(err, fetch.ErrTooLarge):
		kind = KindTooLarge
	case errors.As(err, &fe) && fe.NotFound():
		kind = KindNotFound
	}
	return &ResolutionError{Kind: kind, Locator: loc.String(), Detail: err.Error(), Err: err}
}
