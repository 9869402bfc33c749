package ingest

import (
	"strings"
	"unicode"

	"contentpulse/internal/domain"
)

// MatchReason says which dedup key identified a duplicate.
type MatchReason string

const (
	MatchURL   MatchReason = "url"
	MatchTitle MatchReason = "title"
)

// NormalizeTitle derives the secondary dedup key: lower-cased, punctuation
// stripped, whitespace collapsed. Deliberately no stemming or fuzzy
// matching; over-aggressive matching silently drops distinct stories.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeURL strips a single trailing slash. Comparison stays
// case-sensitive otherwise.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, "/") {
		return strings.TrimSuffix(raw, "/")
	}
	return raw
}

// Index holds the dedup keys of a store snapshot plus the items already
// accepted earlier in the same batch.
type Index struct {
	urls   map[string]string
	titles map[string]string
}

// NewIndex builds the dedup index from an up-to-date snapshot of existing
// records. Snapshots are fetched at the start of each ingestion job, never
// cached across cycles.
func NewIndex(existing []domain.ContentRecord) *Index {
	ix := &Index{
		urls:   make(map[string]string, len(existing)),
		titles: make(map[string]string, len(existing)),
	}
	for _, record := range existing {
		ix.urls[NormalizeURL(record.CanonicalURL)] = record.SourceID

		normalized := record.NormalizedTitle
		if normalized == "" {
			normalized = NormalizeTitle(record.Title)
		}
		if normalized != "" {
			ix.titles[normalized] = record.SourceID
		}
	}
	return ix
}

// Match reports whether the item duplicates an indexed record: exact
// canonical-URL match first, normalized-title match second. The returned
// source ID names the record already holding the key.
func (ix *Index) Match(item domain.RawItem) (MatchReason, string, bool) {
	if sourceID, ok := ix.urls[NormalizeURL(item.CanonicalURL)]; ok {
		return MatchURL, sourceID, true
	}
	if normalized := NormalizeTitle(item.Title); normalized != "" {
		if sourceID, ok := ix.titles[normalized]; ok {
			return MatchTitle, sourceID, true
		}
	}
	return "", "", false
}

// Add registers an accepted item so later items in the same batch dedup
// against it.
func (ix *Index) Add(item domain.RawItem) {
	ix.urls[NormalizeURL(item.CanonicalURL)] = item.SourceID
	if normalized := NormalizeTitle(item.Title); normalized != "" {
		ix.titles[normalized] = item.SourceID
	}
}
