// Package cache keeps fetched schema documents for a while so repeated runs
// against the same schema URL do not hit the network each time.
//
// Only schema documents are cached. Data sources are always read fresh.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/validata/internal/fetch"
)

// Store is a byte cache with per-entry expiry.
type Store interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Options selects a backend.
type Options struct {
	Backend    string // none, memory, redis, sqlite
	RedisURL   string
	SQLitePath string
}

// Open creates the configured store. Backend "none" returns nil, nil.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Fetcher caches the documents of another fetcher.
type Fetcher struct {
	next  fetch.Fetcher
	store Store
	ttl   time.Duration
}

// NewFetcher decorates next with store. A nil store or a non-positive ttl
// disables caching and returns next unchanged.
func NewFetcher(next fetch.Fetcher, store Store, ttl time.Duration) fetch.Fetcher {
	if store == nil || ttl <= 0 {
		return next
	}
	return &Fetcher{next: next, store: store, ttl: ttl}
}

// Fetch returns the cached document for rawURL or fetches and stores it.
// Cache failures degrade to an uncached fetch. A cached document larger
// than lim.MaxBytes fails with fetch.ErrTooLarge like a fresh fetch would.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, lim fetch.Limits) ([]byte, error) {
	key := "schema:" + rawURL

	data, ok, err := f.store.Get(ctx, key)
	if err != nil {
		slog.Warn("schema cache read failed", "url", rawURL, "error", err)
	} else if ok {
		slog.Debug("schema cache hit", "url", rawURL)
		if lim.MaxBytes > 0 && int64(len(data)) > lim.MaxBytes {
			return nil, &fetch.Error{URL: rawURL, Err: fetch.ErrTooLarge}
		}
		return data, nil
	}

	data, err = f.next.Fetch(ctx, rawURL, lim)
	if err != nil {
		return nil, err
	}

	if err := f.store.Set(ctx, key, data, f.ttl); err != nil {
		slog.Warn("schema cache write failed", "url", rawURL, "error", err)
	}
	return data, nil
}
