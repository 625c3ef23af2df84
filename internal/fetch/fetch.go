// Package fetch retrieves remote documents under a size and time budget.
//
// Every retrieval is bounded: the timeout covers connection and body
// transfer, and bodies larger than the byte budget fail with ErrTooLarge.
// Supported locators are http(s) URLs and, when an object store client is
// configured, s3://bucket/key.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// ErrUnsupportedScheme is returned for locators the client cannot serve.
var ErrUnsupportedScheme = errors.New("unsupported locator scheme")

// Limits bounds a single retrieval. Zero values fall back to the client
// defaults.
type Limits struct {
	MaxBytes int64
	Timeout  time.Duration
}

// Error describes a failed retrieval. StatusCode is set when the remote
// answered with a non-2xx status.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports whether the remote said the document does not exist.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Body is an open, bounded remote document. Closing it releases the
// connection and the timeout.
type Body struct {
	io.Reader
	Name        string
	Size        int64
	ContentType string

	closer io.Closer
	cancel context.CancelFunc
}

// Close implements io.Closer.
func (b *Body) Close() error {
	var err error
	if b.closer != nil {
		err = b.closer.Close()
	}
	if b.cancel != nil {
		b.cancel()
	}
	return err
}

// Fetcher retrieves a whole document into memory.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, lim Limits) ([]byte, error)
}

// Opener streams a document.
type Opener interface {
	Open(ctx context.Context, rawURL string, lim Limits) (*Body, error)
}

// Client retrieves documents over HTTP(S) and, optionally, S3.
type Client struct {
	http      *http.Client
	s3        *minio.Client
	userAgent string
	defaults  Limits
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests use httptest clients).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithS3 enables s3:// locators.
func WithS3(mc *minio.Client) Option {
	return func(c *Client) { c.s3 = mc }
}

// WithUserAgent sets the User-Agent header of HTTP requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client with default limits.
func NewClient(defaults Limits, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		userAgent: "validata",
		defaults:  defaults,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) limits(lim Limits) Limits {
	if lim.MaxBytes <= 0 {
		lim.MaxBytes = c.defaults.MaxBytes
	}
	if lim.Timeout <= 0 {
		lim.Timeout = c.defaults.Timeout
	}
	return lim
}

// Supports reports whether the client can open rawURL.
func (c *Client) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	case "s3":
		return c.s3 != nil
	}
	return false
}

// Open starts a bounded retrieval. The returned body must be closed.
func (c *Client) Open(ctx context.Context, rawURL string, lim Limits) (*Body, error) {
	lim = c.limits(lim)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("parse url: %w", err)}
	}

	ctx, cancel := ctx, context.CancelFunc(func() {})
	if lim.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, lim.Timeout)
	}

	var body *Body
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		body, err = c.openHTTP(ctx, u, lim)
	case "s3":
		if c.s3 == nil {
			err = &Error{URL: rawURL, Err: ErrUnsupportedScheme}
			break
		}
		body, err = c.openS3(ctx, u, lim)
	default:
		err = &Error{URL: rawURL, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}
	if err != nil {
		cancel()
		return nil, err
	}

	body.cancel = cancel
	return body, nil
}

// Fetch retrieves a whole document.
func (c *Client) Fetch(ctx context.Context, rawURL string, lim Limits) ([]byte, error) {
	body, err := c.Open(ctx, rawURL, lim)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, &Error{URL: rawURL, Err: err}
		}
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

func (c *Client) openHTTP(ctx context.Context, u *url.URL, lim Limits) (*Body, error) {
	rawURL := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if lim.MaxBytes > 0 && resp.ContentLength > lim.MaxBytes {
		resp.Body.Close()
		return nil, &Error{URL: rawURL, Err: ErrTooLarge}
	}

	return &Body{
		Reader:      NewLimitedReader(resp.Body, lim.MaxBytes),
		Name:        rawURL,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
		closer:      resp.Body,
	}, nil
}
