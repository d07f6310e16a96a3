package airquality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachedLookupConfig holds configuration for the caching lookup.
type CachedLookupConfig struct {
	// Lookup is the upstream live-value source.
	Lookup Lookup

	// Logger for cache operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache a location's value (default: 10 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale values on upstream errors (default: 1 hour).
	StaleIfErrorTTL time.Duration

	// Provider names the upstream in recorded metrics (default: "upstream").
	Provider string

	// Metrics records upstream latency and cache outcomes (optional).
	Metrics MetricsRecorder
}

// MetricsRecorder receives upstream request and cache outcomes.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, time.Duration, error) {}
func (nopRecorder) RecordCacheHit(string, string)                      {}
func (nopRecorder) RecordCacheMiss(string, string)                     {}

const opCurrent = "current"

// CachedLookup caches live values per location.
// A neighbour scan touches every location, so repeated scans within the TTL
// cost no upstream calls.
type CachedLookup struct {
	lookup          Lookup
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	provider        string
	metrics         MetricsRecorder

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     RawAQI
	fetchedAt time.Time
	expiresAt time.Time
}

// NewCachedLookup creates a new caching lookup.
func NewCachedLookup(cfg CachedLookupConfig) *CachedLookup {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = time.Hour
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "upstream"
	}

	var metrics MetricsRecorder = nopRecorder{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &CachedLookup{
		lookup:          cfg.Lookup,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		provider:        provider,
		metrics:         metrics,
		entries:         make(map[string]cacheEntry),
	}
}

// Current returns the cached value for a location, fetching it if absent or expired.
func (c *CachedLookup) Current(ctx context.Context, location string) (RawAQI, error) {
	c.mu.RLock()
	entry, ok := c.entries[location]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		c.metrics.RecordCacheHit(c.provider, opCurrent)
		return entry.value, nil
	}
	c.metrics.RecordCacheMiss(c.provider, opCurrent)

	start := time.Now()
	value, err := c.lookup.Current(ctx, location)
	c.metrics.RecordRequest(c.provider, opCurrent, time.Since(start), err)
	if err != nil {
		if ok && time.Now().Before(entry.fetchedAt.Add(c.staleIfErrorTTL)) {
			c.logger.Warn().
				Err(err).
				Str("location", location).
				Time("fetched_at", entry.fetchedAt).
				Msg("serving stale live value due to provider error")
			return entry.value, nil
		}
		return RawAQI{}, err
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[location] = cacheEntry{
		value:     value,
		fetchedAt: now,
		expiresAt: now.Add(c.cacheTTL),
	}
	c.mu.Unlock()

	return value, nil
}

// CacheStatus returns information about the current cache state.
func (c *CachedLookup) CacheStatus() CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := CacheStatus{Entries: len(c.entries)}
	now := time.Now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			status.Expired++
		}
		if e.fetchedAt.After(status.LastFetchAt) {
			status.LastFetchAt = e.fetchedAt
		}
	}
	return status
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	Entries     int
	Expired     int
	LastFetchAt time.Time
}

// Ensure CachedLookup implements Lookup interface.
var _ Lookup = (*CachedLookup)(nil)
