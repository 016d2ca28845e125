package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// GroupResult is the outcome of parsing one three-line group.
// Exactly one of Record/SkipReason is meaningful, selected by OK.
type GroupResult struct {
	OK         bool
	Record     ElementSet
	SkipReason string
}

// ParseGroup validates a single element-set group. The name line is
// optional upstream; here it may be empty. Line prefixes "1 " and "2 "
// are required — groups failing this shape are never stored.
func ParseGroup(name, line1, line2 string, fetchedAt time.Time) GroupResult {
	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return GroupResult{SkipReason: "missing element line prefixes"}
	}
	if len(line1) < 7 {
		return GroupResult{SkipReason: "line1 too short for catalog id"}
	}

	rec := ElementSet{
		Name:      strings.TrimSpace(name),
		Line1:     line1,
		Line2:     line2,
		FetchedAt: fetchedAt,
	}
	if rec.Name == "" {
		rec.Name = "OBJECT " + strings.TrimSpace(line1[2:7])
	}

	// Catalog id lives in line1 cols 3-7 (0-indexed 2..7). A parse
	// failure leaves the id absent but keeps the record.
	if id, err := strconv.Atoi(strings.TrimSpace(line1[2:7])); err == nil {
		rec.CatalogID = id
	}

	return GroupResult{OK: true, Record: rec}
}

// Parse reads 3-line NORAD TLE format from r and returns the valid records.
// Malformed groups are skipped with a warning log; only a read error is fatal.
func Parse(r io.Reader, fetchedAt time.Time, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var records []ElementSet
	for i := 0; i < len(lines); {
		// Groups may arrive with or without a name line.
		name := ""
		l1Idx := i
		if !strings.HasPrefix(lines[i], "1 ") {
			name = lines[i]
			l1Idx = i + 1
		}
		if l1Idx+1 >= len(lines) {
			break
		}

		res := ParseGroup(name, lines[l1Idx], lines[l1Idx+1], fetchedAt)
		if !res.OK {
			logger.Warn("skipping malformed TLE group",
				"line_index", i,
				"name", name,
				"reason", res.SkipReason,
			)
			i++
			continue
		}

		records = append(records, res.Record)
		i = l1Idx + 2
	}

	return records, nil
}
