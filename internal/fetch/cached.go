package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/seo-workflows/internal/types"
)

// DefaultCacheTTL is how long a fetched page snapshot is reused.
const DefaultCacheTTL = 15 * time.Minute

// CachedFetcherConfig holds configuration for the cached fetcher.
type CachedFetcherConfig struct {
	CacheTTL time.Duration
	// MaxEntries bounds the cache; the oldest entry is evicted first
	MaxEntries int
	Now        func() time.Time
}

type cacheEntry struct {
	snap      types.PageSnapshot
	fetchedAt time.Time
}

type cacheKey struct {
	url     string
	browser bool
}

// CachedFetcher wraps a Fetcher with an in-process snapshot cache, so concurrent
// jobs against the same site share one fetch per TTL window
type CachedFetcher struct {
	next       Fetcher
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCachedFetcher creates a new cached fetcher.
func NewCachedFetcher(next Fetcher, config CachedFetcherConfig) *CachedFetcher {
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 512
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CachedFetcher{
		next:       next,
		ttl:        config.CacheTTL,
		maxEntries: config.MaxEntries,
		now:        config.Now,
		entries:    make(map[cacheKey]cacheEntry),
	}
}

// Page returns a fresh cached snapshot or fetches and caches a new one.
// Failures are never cached.
func (f *CachedFetcher) Page(ctx context.Context, url string, useBrowser bool) (*types.PageSnapshot, error) {
	key := cacheKey{url: url, browser: useBrowser}

	f.mu.Lock()
	entry, ok := f.entries[key]
	if ok && f.now().Sub(entry.fetchedAt) < f.ttl {
		f.mu.Unlock()
		return cloneSnapshot(entry.snap), nil
	}
	f.mu.Unlock()

	snap, err := f.next.Page(ctx, url, useBrowser)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if len(f.entries) >= f.maxEntries {
		f.evictOldestLocked()
	}
	f.entries[key] = cacheEntry{snap: *cloneSnapshot(*snap), fetchedAt: f.now()}
	f.mu.Unlock()

	return snap, nil
}

// Invalidate drops every cached snapshot of url.
func (f *CachedFetcher) Invalidate(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, cacheKey{url: url})
	delete(f.entries, cacheKey{url: url, browser: true})
}

// Len returns the number of cached snapshots.
func (f *CachedFetcher) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *CachedFetcher) evictOldestLocked() {
	var oldest cacheKey
	var oldestAt time.Time
	first := true
	for k, e := range f.entries {
		if first || e.fetchedAt.Before(oldestAt) {
			oldest, oldestAt, first = k, e.fetchedAt, false
		}
	}
	delete(f.entries, oldest)
}

func cloneSnapshot(s types.PageSnapshot) *types.PageSnapshot {
	c := s
	c.Headings = append([]string(nil), s.Headings...)
	c.Links = append([]string(nil), s.Links...)
	return &c
}
