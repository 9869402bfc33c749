// Package ingest implements the per-source ingestion cycle: quota guard,
// moderation filter, deduplication and store writes.
package ingest

import (
	"strings"

	"contentpulse/internal/domain"
)

// IsAllowed reports whether the item passes the moderation denylist.
// Matching is a case-insensitive substring check against title and body;
// an empty denylist is a pass-through.
func IsAllowed(item domain.RawItem, denylist []string) bool {
	if len(denylist) == 0 {
		return true
	}

	haystack := strings.ToLower(item.Title + " " + item.BodySummary)
	for _, keyword := range denylist {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(haystack, keyword) {
			return false
		}
	}
	return true
}
