package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLimitedReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int64
		wantErr bool
	}{
		{"unlimited", "hello world", 0, false},
		{"under limit", "hello", 10, false},
		{"exact limit", "hello", 5, false},
		{"over limit", "hello world", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewLimitedReader(strings.NewReader(tt.input), tt.max)
			data, err := io.ReadAll(r)
			if tt.wantErr {
				if !errors.Is(err, ErrTooLarge) {
					t.Fatalf("err = %v, want ErrTooLarge", err)
				}
				if int64(len(data)) > tt.max {
					t.Errorf("read %d bytes past limit %d", len(data), tt.max)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.input {
				t.Errorf("got %q, want %q", data, tt.input)
			}
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = io.WriteString(w, `{"fields":[]}`)
		case "/big":
			w.Header().Set("Content-Length", "1000")
			_, _ = w.Write(make([]byte, 1000))
		case "/chunked":
			flusher := w.(http.Flusher)
			for i := 0; i < 10; i++ {
				_, _ = w.Write(make([]byte, 100))
				flusher.Flush()
			}
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = io.WriteString(w, "late")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Limits{MaxBytes: 512, Timeout: 2 * time.Second}, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		data, err := c.Fetch(ctx, srv.URL+"/ok", Limits{})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(data) != `{"fields":[]}` {
			t.Errorf("body = %q", data)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := c.Fetch(ctx, srv.URL+"/missing", Limits{})
		var fe *Error
		if !errors.As(err, &fe) || !fe.NotFound() {
			t.Fatalf("err = %v, want 404 fetch error", err)
		}
	})

	t.Run("content length too large", func(t *testing.T) {
		_, err := c.Fetch(ctx, srv.URL+"/big", Limits{})
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("streamed too large", func(t *testing.T) {
		_, err := c.Fetch(ctx, srv.URL+"/chunked", Limits{})
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("per call limit overrides default", func(t *testing.T) {
		data, err := c.Fetch(ctx, srv.URL+"/big", Limits{MaxBytes: 2000})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(data) != 1000 {
			t.Errorf("len = %d, want 1000", len(data))
		}
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := c.Fetch(ctx, srv.URL+"/slow", Limits{Timeout: 50 * time.Millisecond})
		var fe *Error
		if !errors.As(err, &fe) {
			t.Fatalf("err = %v, want fetch error", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestClient_UnsupportedScheme(t *testing.T) {
	c := NewClient(Limits{})
	for _, u := range []string{"ftp://example.org/x.csv", "s3://bucket/key", "file:///etc/passwd"} {
		t.Run(u, func(t *testing.T) {
			if c.Supports(u) {
				t.Errorf("Supports(%q) = true", u)
			}
			_, err := c.Open(context.Background(), u, Limits{})
			if !errors.Is(err, ErrUnsupportedScheme) {
				t.Errorf("err = %v, want ErrUnsupportedScheme", err)
			}
		})
	}
}

func TestNewS3_RequiresCredentials(t *testing.T) {
	if _, err := NewS3(S3Options{Endpoint: "localhost:9000"}); err == nil {
		t.Error("NewS3 without credentials should fail")
	}
	mc, err := NewS3(S3Options{Endpoint: "https://s3.example.org", AccessKeyID: "id", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	c := NewClient(Limits{}, WithS3(mc))
	if !c.Supports("s3://bucket/data.csv") {
		t.Error("client with S3 should support s3:// locators")
	}
}
