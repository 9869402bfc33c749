package domain

import "time"

// SourceKind selects the adapter used to fetch a source.
type SourceKind string

const (
	KindRSS        SourceKind = "rss"
	KindSearchAPI  SourceKind = "search_api"
	KindGenericAPI SourceKind = "generic_api"
)

// Source is one upstream origin. Sources are created and edited by an
// external admin surface; the engine only reads them.
type Source struct {
	ID                   string
	Name                 string
	Kind                 SourceKind
	Endpoint             string
	Keywords             []string
	IsActive             bool
	Priority             int
	FetchIntervalMinutes int
	DailyQuota           int
	PerMinuteQuota       int
}

// RawItem is one fetched candidate. It exists only in memory during a
// single ingestion pass.
type RawItem struct {
	Title        string
	BodySummary  string
	CanonicalURL string
	PublishedAt  time.Time
	SourceID     string
	MediaURL     string
	AuthorName   string
}

// ModerationStatus enumerates the externally-driven moderation lifecycle.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
	StatusHidden   ModerationStatus = "hidden"
)

// ContentRecord is the persisted unit (article, video or review).
// NormalizedTitle is derived from Title at write time and serves as the
// secondary dedup key next to CanonicalURL.
type ContentRecord struct {
	ID               string
	Title            string
	CanonicalURL     string
	NormalizedTitle  string
	BodySummary      string
	MediaURL         string
	AuthorName       string
	PublishedAt      time.Time
	CreatedAt        time.Time
	SourceID         string
	IsPinned         bool
	IsFeatured       bool
	ModerationStatus ModerationStatus
}

// Preserved reports whether the record is exempt from retention deletion
// under the given policy flags.
func (r ContentRecord) Preserved(preservePinned, preserveFeatured bool) bool {
	return (r.IsPinned && preservePinned) || (r.IsFeatured && preserveFeatured)
}
