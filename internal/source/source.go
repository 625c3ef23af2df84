// Package source resolves tabular data sources and streams their rows.
//
// A data source arrives as a URL, an uploaded stream or pasted text. The
// resolver inspects a bounded prefix to detect the dialect (encoding,
// delimiter, quote character, header presence), then exposes a single-use
// row stream decoded to UTF-8. Nothing beyond the prefix is buffered.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/validata/internal/fetch"
)

// Origin tells where the data came from.
type Origin string

const (
	OriginURL    Origin = "url"
	OriginUpload Origin = "upload"
	OriginPaste  Origin = "paste"
)

// ErrorKind classifies a data source failure.
type ErrorKind string

const (
	KindUnreachable         ErrorKind = "unreachable"
	KindUnsupportedEncoding ErrorKind = "unsupported-encoding"
	KindEmpty               ErrorKind = "empty"
	KindTooLarge            ErrorKind = "too-large"
	KindMalformed           ErrorKind = "malformed"
)

// SourceError reports why a data source could not be opened.
type SourceError struct {
	Kind   ErrorKind
	Name   string
	Detail string
	Err    error
}

func (e *SourceError) Error() string {
	msg := "data source"
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ErrConsumed is returned when rows are requested a second time.
var ErrConsumed = errors.New("data source rows already consumed")

// Locator names a data source. Set URL, or Upload, or Text.
type Locator struct {
	URL      string
	Upload   io.Reader
	Filename string
	Size     int64
	Text     string
}

// Origin returns the kind of locator.
func (l Locator) Origin() Origin {
	switch {
	case l.URL != "":
		return OriginURL
	case l.Upload != nil:
		return OriginUpload
	default:
		return OriginPaste
	}
}

// String describes the locator for reports and logs.
func (l Locator) String() string {
	switch l.Origin() {
	case OriginURL:
		return l.URL
	case OriginUpload:
		if l.Filename != "" {
			return l.Filename
		}
		return "upload"
	default:
		return "paste"
	}
}

// Options override dialect detection.
type Options struct {
	Encoding  string // encoding label, e.g. "latin1"; empty to detect
	Delimiter rune   // 0 to detect
	Header    *bool  // nil to detect
}

// Dialect describes how a source is laid out.
type Dialect struct {
	Delimiter rune
	Quote     rune
	Encoding  string
	Header    bool
}

// DataSource is a resolved, not yet consumed source.
type DataSource struct {
	Origin  Origin
	Name    string
	Dialect Dialect
	Size    int64

	body      io.Reader
	closer    io.Closer
	prefix    prefixInfo
	headerSet bool
	consumed  bool
}

// prefixInfo is what sniffing learned from the inspected prefix.
type prefixInfo struct {
	first    []string // first record
	records  int      // records fully inside the prefix
	complete bool     // the prefix is the whole source
}

// Close releases the underlying stream.
func (d *DataSource) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// Resolver opens data sources.
type Resolver struct {
	opener     fetch.Opener
	sniffBytes int
}

// NewResolver creates a resolver. opener serves URL locators.
func NewResolver(opener fetch.Opener, sniffBytes int) *Resolver {
	if sniffBytes <= 0 {
		sniffBytes = 64 << 10
	}
	return &Resolver{opener: opener, sniffBytes: sniffBytes}
}

// Resolve opens the source, sniffs its dialect and returns it ready to
// stream. Failures are *SourceError. The caller must Close the result.
func (r *Resolver) Resolve(ctx context.Context, loc Locator, lim fetch.Limits, opts Options) (*DataSource, error) {
	if loc.URL != "" && loc.Upload != nil {
		return nil, &SourceError{Kind: KindUnreachable, Name: loc.String(),
			Detail: "locator must set only one of url, upload or text"}
	}

	ds := &DataSource{Origin: loc.Origin(), Name: loc.String(), Size: loc.Size}

	var raw io.Reader
	switch ds.Origin {
	case OriginURL:
		body, err := r.opener.Open(ctx, loc.URL, lim)
		if err != nil {
			return nil, openFailure(ds.Name, err)
		}
		raw, ds.closer, ds.Size = body, body, body.Size
	case OriginUpload:
		if c, ok := loc.Upload.(io.Closer); ok {
			ds.closer = c
		}
		if lim.MaxBytes > 0 && loc.Size > lim.MaxBytes {
			ds.Close()
			return nil, &SourceError{Kind: KindTooLarge, Name: ds.Name, Err: fetch.ErrTooLarge,
				Detail: fmt.Sprintf("%d bytes exceeds the %d byte limit", loc.Size, lim.MaxBytes)}
		}
		raw = fetch.NewLimitedReader(loc.Upload, lim.MaxBytes)
	default:
		raw = strings.NewReader(loc.Text)
		ds.Size = int64(len(loc.Text))
	}

	if err := r.sniff(ds, raw, opts); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

func (r *Resolver) sniff(ds *DataSource, raw io.Reader, opts Options) error {
	br := bufio.NewReaderSize(raw, r.sniffBytes)
	prefix, err := br.Peek(r.sniffBytes)
	complete := false
	switch {
	case err == nil, errors.Is(err, bufio.ErrBufferFull):
	case errors.Is(err, io.EOF):
		complete = true
	case errors.Is(err, fetch.ErrTooLarge):
		return &SourceError{Kind: KindTooLarge, Name: ds.Name, Detail: err.Error(), Err: err}
	default:
		return &SourceError{Kind: KindUnreachable, Name: ds.Name, Detail: err.Error(), Err: err}
	}

	if len(bytes.TrimSpace(prefix)) == 0 && complete {
		return &SourceError{Kind: KindEmpty, Name: ds.Name, Detail: "no content"}
	}

	enc, name, bomLen, err := detectEncoding(prefix, complete, opts.Encoding)
	if err != nil {
		return &SourceError{Kind: KindUnsupportedEncoding, Name: ds.Name, Detail: err.Error(), Err: err}
	}
	if bomLen > 0 && enc == nil {
		// UTF-8 BOM: drop it so the first header name is clean.
		_, _ = br.Discard(bomLen)
		prefix = prefix[bomLen:]
	}

	text := decodePrefix(prefix, enc, complete)

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(text)
	}

	records := readPrefixRecords(text, delim)
	info := scanPrefix(records, complete)
	var header bool
	if opts.Header != nil {
		header = *opts.Header
		ds.headerSet = true
	} else {
		header = sniffHeader(records)
	}

	if info.records == 0 && complete {
		return &SourceError{Kind: KindEmpty, Name: ds.Name, Detail: "no rows"}
	}
	if header && info.records == 1 && complete {
		return &SourceError{Kind: KindEmpty, Name: ds.Name, Detail: "no rows after header"}
	}

	var body io.Reader = br
	if enc != nil {
		body = decodingReader(br, enc)
	}

	ds.body = body
	ds.prefix = info
	ds.Dialect = Dialect{Delimiter: delim, Quote: '"', Encoding: name, Header: header}
	return nil
}

func openFailure(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindUnreachable
	if errors.Is(err, fetch.ErrTooLarge) {
		kind = KindTooLarge
	}
	return &SourceError{Kind: kind, Name: name, Detail: err.Error(), Err: err}
}

