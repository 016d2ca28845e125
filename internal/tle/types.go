package tle

import "time"

// ElementSet is a single object's two-line element set at fetch time.
// Immutable once constructed; a fresher fetch produces a new record.
type ElementSet struct {
	Name      string    `json:"name"`
	Line1     string    `json:"line1"`
	Line2     string    `json:"line2"`
	CatalogID int       `json:"catalog_id,omitempty"` // 0 when line1 carries no parseable id
	FetchedAt time.Time `json:"fetched_at"`
}
