package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/validata/internal/fetch"
)

type countingFetcher struct {
	calls atomic.Int32
	body  []byte
	err   error
}

func (c *countingFetcher) Fetch(ctx context.Context, rawURL string, lim fetch.Limits) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.body, nil
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v", got, ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v2"), time.Hour); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _, _ = s.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("after overwrite Get(k) = %q, want v2", got)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_Expiry(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	_ = m.Set(ctx, "k", []byte("v"), time.Minute)

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expired entry still served")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	testStore(t, s)

	now := time.Now().Add(2 * time.Hour)
	s.now = func() time.Time { return now }
	if _, ok, _ := s.Get(context.Background(), "k"); ok {
		t.Error("expired sqlite entry still served")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("VALIDATA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VALIDATA_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not-a-url"); err == nil {
		t.Error("NewRedisStore with bad url should fail")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: "none"})
	if err != nil || s != nil {
		t.Errorf("Open(none) = %v, %v", s, err)
	}
	s, err = Open(ctx, Options{Backend: "memory"})
	if err != nil || s == nil {
		t.Errorf("Open(memory) = %v, %v", s, err)
	}
	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Error("Open(etcd) should fail")
	}
}

func TestFetcher_CachesDocuments(t *testing.T) {
	next := &countingFetcher{body: []byte(`{"fields":[]}`)}
	f := NewFetcher(next, NewMemoryStore(), time.Hour)

	for i := 0; i < 3; i++ {
		data, err := f.Fetch(context.Background(), "https://example.org/schema.json", fetch.Limits{})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(data) != `{"fields":[]}` {
			t.Errorf("data = %q", data)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("underlying fetches = %d, want 1", n)
	}
}

func TestFetcher_CachedDocumentRespectsLimit(t *testing.T) {
	next := &countingFetcher{body: []byte(`{"fields":[{"name":"a"},{"name":"b"}]}`)}
	f := NewFetcher(next, NewMemoryStore(), time.Hour)
	ctx := context.Background()

	if _, err := f.Fetch(ctx, "https://example.org/schema.json", fetch.Limits{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	_, err := f.Fetch(ctx, "https://example.org/schema.json", fetch.Limits{MaxBytes: 10})
	if !errors.Is(err, fetch.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("underlying fetches = %d, want 1", n)
	}
}

func TestFetcher_ErrorsNotCached(t *testing.T) {
	next := &countingFetcher{err: errors.New("boom")}
	f := NewFetcher(next, NewMemoryStore(), time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), "https://example.org/x", fetch.Limits{}); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Errorf("underlying fetches = %d, want 2", n)
	}
}

func TestNewFetcher_Disabled(t *testing.T) {
	next := &countingFetcher{}
	if got := NewFetcher(next, nil, time.Hour); got != fetch.Fetcher(next) {
		t.Error("nil store should return the underlying fetcher")
	}
	if got := NewFetcher(next, NewMemoryStore(), 0); got != fetch.Fetcher(next) {
		t.Error("zero ttl should return the underlying fetcher")
	}
}
