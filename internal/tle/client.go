package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbit/conjwatch/internal/metrics"
)

// maxBodyBytes bounds how much of a source response is read. Full catalog
// dumps run a few MB; anything past this is a misbehaving source.
const maxBodyBytes = 50 * 1024 * 1024

// RetryPolicy is the explicit transport retry configuration: which HTTP
// statuses count as transient, how many attempts to make, and how the
// backoff between attempts grows.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy retries transient failures three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// httpStatusError marks a failure caused by a non-2xx response so the
// retry loop can distinguish transient from permanent statuses.
type httpStatusError struct {
	code int
	url  string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.code, e.url)
}

// ErrNoSources is returned by FetchAll when no sources are configured.
// It is the only error the client surfaces; every network-level failure
// degrades to the cache instead.
var ErrNoSources = errors.New("no TLE sources configured")

// Client obtains the freshest practical element sets for every configured
// source, falling back to the Cache on any transport or parse failure.
type Client struct {
	sources    map[string]string
	cache      *Cache
	retry      RetryPolicy
	maxWorkers int
	maxAge     time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client over the given source name → URL map.
func NewClient(sources map[string]string, cache *Cache, retry RetryPolicy, maxWorkers int, maxAge, timeout time.Duration, logger *slog.Logger) *Client {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Client{
		sources:    sources,
		cache:      cache,
		retry:      retry,
		maxWorkers: maxWorkers,
		maxAge:     maxAge,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchSource issues one HTTP GET for a source, retrying transient
// failures per the retry policy. On success the parsed records are saved
// to the cache; on any failure the cached records are returned instead.
// Never returns an error: degradation is logged, not raised.
func (c *Client) FetchSource(ctx context.Context, source, url string) []ElementSet {
	start := time.Now()
	body, err := c.getWithRetry(ctx, url)
	metrics.ObserveFetchDuration(source, time.Since(start))
	if err != nil {
		c.logger.Warn("fetch failed, falling back to cache", "source", source, "error", err)
		metrics.IncCacheFallback(source)
		return c.cache.Load(source)
	}

	fetchedAt := time.Now().UTC()
	records, err := Parse(bytes.NewReader(body), fetchedAt, c.logger)
	if err != nil || len(records) == 0 {
		c.logger.Warn("fetched data unusable, falling back to cache",
			"source", source, "records", len(records), "error", err)
		metrics.IncCacheFallback(source)
		return c.cache.Load(source)
	}

	if err := c.cache.Save(source, records); err != nil {
		// In-memory records still serve this run.
		c.logger.Warn("cache write failed, continuing with in-memory records",
			"source", source, "error", err)
	}

	c.logger.Info("fetched TLE source", "source", source, "records", len(records))
	return records
}

// FetchAll resolves records for every configured source. When force is
// false and no source is stale, the union of cached records is returned
// without any network call. Otherwise all sources are fetched concurrently
// through a bounded pool and concatenated as they complete.
func (c *Client) FetchAll(ctx context.Context, force bool) ([]ElementSet, error) {
	if len(c.sources) == 0 {
		return nil, ErrNoSources
	}

	if !force && !c.anyStale() {
		var all []ElementSet
		for _, source := range c.sourceNames() {
			all = append(all, c.cache.Load(source)...)
		}
		c.logger.Info("cache fresh for all sources, skipping fetch", "records", len(all))
		return all, nil
	}

	var (
		mu  sync.Mutex
		all []ElementSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for _, source := range c.sourceNames() {
		g.Go(func() error {
			records := c.FetchSource(gctx, source, c.sources[source])
			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait is the join point guaranteeing
	// every fetch outcome is resolved before downstream stages run.
	_ = g.Wait()

	return all, nil
}

// anyStale reports whether any configured source requires a refetch.
// One stale source forces a refresh of all of them.
func (c *Client) anyStale() bool {
	for source := range c.sources {
		if c.cache.IsStale(source, c.maxAge) {
			return true
		}
	}
	return false
}

// sourceNames returns the configured source names in a stable order.
func (c *Client) sourceNames() []string {
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getWithRetry performs the GET with jittered exponential backoff on
// transient statuses and transport errors. Permanent HTTP failures
// (non-transient statuses) fail fast without retry.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	delay := c.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if delay <= 0 {
				delay = time.Millisecond
			}
			jitter := time.Duration(rand.Int64N(int64(delay)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay + jitter):
			}
			delay = time.Duration(float64(delay) * c.retry.Multiplier)
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && !transientStatus(statusErr.code) {
			return nil, err
		}
		c.logger.Debug("transient fetch failure", "url", url, "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpStatusError{code: resp.StatusCode, url: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", maxBodyBytes)
	}
	return body, nil
}
