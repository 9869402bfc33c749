package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"contentpulse/internal/domain"
)

// rssDocument covers RSS 2.0 feeds.
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string         `xml:"title"`
	Link        string         `xml:"link"`
	Description string         `xml:"description"`
	Encoded     string         `xml:"encoded"`
	Author      string         `xml:"author"`
	Creator     string         `xml:"creator"`
	PubDate     string         `xml:"pubDate"`
	GUID        string         `xml:"guid"`
	Enclosures  []rssEnclosure `xml:"enclosure"`
	Thumbnails  []rssEnclosure `xml:"thumbnail"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// atomDocument covers Atom feeds.
type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Author    string     `xml:"author>name"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// RSSAdapter retrieves RSS/Atom documents and maps entries to raw items.
type RSSAdapter struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ Adapter = (*RSSAdapter)(nil)

// NewRSSAdapter wires an HTTP client; a nil client gets the default timeout.
func NewRSSAdapter(client *http.Client, logger *slog.Logger) *RSSAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSAdapter{
		client: defaultClient(client),
		logger: logger,
		now:    time.Now,
	}
}

// Kind identifies the adapter inside the registry.
func (a *RSSAdapter) Kind() domain.SourceKind {
	return domain.KindRSS
}

// Fetch retrieves and parses the feed document. A parse failure of the
// whole feed is a single error for the source; a malformed individual
// entry is skipped, not fatal.
func (a *RSSAdapter) Fetch(ctx context.Context, source domain.Source) ([]domain.RawItem, error) {
	body, err := get(ctx, a.client, source.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}

	origin := feedOrigin(source.Endpoint)

	switch rootElement(body) {
	case "rss":
		var doc rssDocument
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, parseError(fmt.Errorf("source %s: decode rss: %w", source.ID, err))
		}
		return a.mapRSSItems(doc.Channel.Items, source, origin), nil
	case "feed":
		var doc atomDocument
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, parseError(fmt.Errorf("source %s: decode atom: %w", source.ID, err))
		}
		return a.mapAtomEntries(doc.Entries, source, origin), nil
	default:
		return nil, parseError(fmt.Errorf("source %s: document is neither rss nor atom", source.ID))
	}
}

func (a *RSSAdapter) mapRSSItems(items []rssItem, source domain.Source, origin *url.URL) []domain.RawItem {
	results := make([]domain.RawItem, 0, len(items))
	for _, entry := range items {
		title := strings.TrimSpace(entry.Title)
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			link = strings.TrimSpace(entry.GUID)
		}
		if title == "" || !strings.HasPrefix(link, "http") {
			a.logger.Debug("skipping malformed feed entry", "source", source.ID, "title", title)
			continue
		}

		body := entry.Encoded
		if strings.TrimSpace(body) == "" {
			body = entry.Description
		}

		author := strings.TrimSpace(entry.Author)
		if author == "" {
			author = strings.TrimSpace(entry.Creator)
		}

		results = append(results, domain.RawItem{
			Title:        title,
			BodySummary:  strings.TrimSpace(stripHTML(body)),
			CanonicalURL: link,
			PublishedAt:  a.parseDate(entry.PubDate),
			SourceID:     source.ID,
			MediaURL:     extractMediaURL(entry, body, origin),
			AuthorName:   author,
		})
	}
	return results
}

func (a *RSSAdapter) mapAtomEntries(entries []atomEntry, source domain.Source, origin *url.URL) []domain.RawItem {
	results := make([]domain.RawItem, 0, len(entries))
	for _, entry := range entries {
		title := strings.TrimSpace(entry.Title)
		link := atomAlternate(entry.Links)
		if title == "" || !strings.HasPrefix(link, "http") {
			a.logger.Debug("skipping malformed feed entry", "source", source.ID, "title", title)
			continue
		}

		body := entry.Content
		if strings.TrimSpace(body) == "" {
			body = entry.Summary
		}

		published := entry.Published
		if published == "" {
			published = entry.Updated
		}

		results = append(results, domain.RawItem{
			Title:        title,
			BodySummary:  strings.TrimSpace(stripHTML(body)),
			CanonicalURL: link,
			PublishedAt:  a.parseDate(published),
			SourceID:     source.ID,
			MediaURL:     inlineImageURL(body, origin),
			AuthorName:   strings.TrimSpace(entry.Author),
		})
	}
	return results
}

// parseDate defaults to fetch time when the upstream date is absent or
// unparseable.
func (a *RSSAdapter) parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return a.now().UTC()
	}
	for _, layout := range feedDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return a.now().UTC()
}

// extractMediaURL picks a best-effort media URL: a media thumbnail first,
// then an image enclosure, then an inline <img> inside the body HTML.
func extractMediaURL(entry rssItem, body string, origin *url.URL) string {
	for _, thumb := range entry.Thumbnails {
		if u := strings.TrimSpace(thumb.URL); u != "" {
			return resolveMediaURL(u, origin)
		}
	}
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && strings.TrimSpace(enc.URL) != "" {
			return resolveMediaURL(strings.TrimSpace(enc.URL), origin)
		}
	}
	return inlineImageURL(body, origin)
}

func inlineImageURL(body string, origin *url.URL) string {
	if !strings.Contains(body, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	return resolveMediaURL(src, origin)
}

// resolveMediaURL resolves relative media URLs against the feed's origin.
func resolveMediaURL(raw string, origin *url.URL) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	if origin == nil {
		return ""
	}
	return origin.ResolveReference(parsed).String()
}

func feedOrigin(endpoint string) *url.URL {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/"}
}

func atomAlternate(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

// stripHTML flattens markup in summaries down to text.
func stripHTML(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	return doc.Text()
}

// rootElement sniffs the first start element so the adapter can tell RSS
// from Atom without decoding twice.
func rootElement(body []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}
