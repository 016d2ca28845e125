package tle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache persists the most recently fetched element sets, one JSON file
// per source. Read errors are treated as "no cache" so that a corrupt or
// missing file never aborts a run.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// NewCache creates a Cache rooted at dir.
func NewCache(dir string, logger *slog.Logger) *Cache {
	return &Cache{dir: dir, logger: logger}
}

// cacheEntry is the on-disk record shape. FetchedAt is RFC3339 UTC.
type cacheEntry struct {
	Name      string `json:"name"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	CatalogID int    `json:"catalog_id,omitempty"`
	FetchedAt string `json:"fetched_at"`
}

// Load reads the persisted records for a source. Missing or unreadable
// files yield an empty slice; individual corrupt entries are dropped.
func (c *Cache) Load(source string) []ElementSet {
	data, err := os.ReadFile(c.path(source))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cache unreadable, treating as empty", "source", source, "error", err)
		}
		return nil
	}

	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("cache corrupt, treating as empty", "source", source, "error", err)
		return nil
	}

	records := make([]ElementSet, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Line1, "1 ") || !strings.HasPrefix(e.Line2, "2 ") {
			continue
		}
		fetchedAt, err := time.Parse(time.RFC3339, e.FetchedAt)
		if err != nil {
			continue
		}
		records = append(records, ElementSet{
			Name:      e.Name,
			Line1:     e.Line1,
			Line2:     e.Line2,
			CatalogID: e.CatalogID,
			FetchedAt: fetchedAt.UTC(),
		})
	}
	return records
}

// Save overwrites the persisted records for a source. The write goes to a
// temp file first and is renamed into place, so a concurrent reader never
// observes a partially written set.
func (c *Cache) Save(source string, records []ElementSet) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	entries := make([]cacheEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, cacheEntry{
			Name:      r.Name,
			Line1:     r.Line1,
			Line2:     r.Line2,
			CatalogID: r.CatalogID,
			FetchedAt: r.FetchedAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache for %s: %w", source, err)
	}

	tmp := c.path(source) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path(source)); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// IsStale reports whether a refetch is required for source: true when no
// cached record exists or the newest fetch timestamp is older than maxAge.
func (c *Cache) IsStale(source string, maxAge time.Duration) bool {
	records := c.Load(source)
	if len(records) == 0 {
		return true
	}
	newest := records[0].FetchedAt
	for _, r := range records[1:] {
		if r.FetchedAt.After(newest) {
			newest = r.FetchedAt
		}
	}
	return time.Since(newest) > maxAge
}

func (c *Cache) path(source string) string {
	return filepath.Join(c.dir, sanitizeSource(source)+".json")
}

// sanitizeSource keeps source-derived filenames within the cache dir.
func sanitizeSource(source string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, source)
}
