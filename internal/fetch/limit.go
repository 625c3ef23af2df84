package fetch

import (
	"errors"
	"io"
)

// ErrTooLarge is returned once a body exceeds its byte budget.
var ErrTooLarge = errors.New("payload exceeds size limit")

// LimitedReader wraps an io.Reader, tracks bytes read and fails with
// ErrTooLarge as soon as more than Max bytes have been produced.
// Max <= 0 disables the limit.
type LimitedReader struct {
	reader    io.Reader
	BytesRead int64
	Max       int64
}

// NewLimitedReader creates a limited reader.
func NewLimitedReader(r io.Reader, max int64) *LimitedReader {
	return &LimitedReader{reader: r, Max: max}
}

// Read implements io.Reader.
func (r *LimitedReader) Read(p []byte) (int, error) {
	if r.Max > 0 {
		remaining := r.Max - r.BytesRead
		if remaining < 0 {
			return 0, ErrTooLarge
		}
		// Ask for one byte past the budget so an exact-size body still
		// reaches EOF cleanly while an oversized one trips the limit.
		if int64(len(p)) > remaining+1 {
			p = p[:remaining+1]
		}
	}

	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)

	if r.Max > 0 && r.BytesRead > r.Max {
		over := int(r.BytesRead - r.Max)
		return n - over, ErrTooLarge
	}
	return n, err
}
