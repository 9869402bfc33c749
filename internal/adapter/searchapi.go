package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contentpulse/internal/domain"
)

const queryPlaceholder = "{query}"

// apiItem is the common result shape shared by the JSON upstream APIs.
type apiItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Thumbnail   string `json:"thumbnail"`
	Author      string `json:"author"`
}

type apiResponse struct {
	Items []apiItem `json:"items"`
}

// SearchAPIAdapter issues one keyword-parameterized query per configured
// keyword. Each query contributes independently to the result set.
type SearchAPIAdapter struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ Adapter = (*SearchAPIAdapter)(nil)

// NewSearchAPIAdapter wires an HTTP client; a nil client gets the default
// timeout.
func NewSearchAPIAdapter(client *http.Client, logger *slog.Logger) *SearchAPIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchAPIAdapter{
		client: defaultClient(client),
		logger: logger,
		now:    time.Now,
	}
}

// Kind identifies the adapter inside the registry.
func (a *SearchAPIAdapter) Kind() domain.SourceKind {
	return domain.KindSearchAPI
}

// Fetch runs one query per keyword. A single keyword's failure does not
// abort the others; a quota-exceeded response stops the remaining queries
// so the guard can apply backoff.
func (a *SearchAPIAdapter) Fetch(ctx context.Context, source domain.Source) ([]domain.RawItem, error) {
	keywords := source.Keywords
	if len(keywords) == 0 {
		return nil, parseError(fmt.Errorf("source %s: no keywords configured", source.ID))
	}

	var (
		results  []domain.RawItem
		lastErr  error
		failures int
	)

	for _, keyword := range keywords {
		queryURL, err := buildQueryURL(source.Endpoint, keyword)
		if err != nil {
			a.logger.Warn("invalid query template", "source", source.ID, "keyword", keyword, "error", err)
			failures++
			lastErr = parseError(err)
			continue
		}

		body, err := get(ctx, a.client, queryURL)
		if err != nil {
			if IsQuotaExceeded(err) {
				return results, fmt.Errorf("source %s keyword %q: %w", source.ID, keyword, err)
			}
			a.logger.Warn("keyword query failed", "source", source.ID, "keyword", keyword, "error", err)
			failures++
			lastErr = err
			continue
		}

		items, err := decodeItems(body)
		if err != nil {
			a.logger.Warn("keyword response unparseable", "source", source.ID, "keyword", keyword, "error", err)
			failures++
			lastErr = parseError(err)
			continue
		}

		results = append(results, a.mapItems(items, source)...)
	}

	if failures == len(keywords) && lastErr != nil {
		return nil, fmt.Errorf("source %s: all %d keyword queries failed: %w", source.ID, failures, lastErr)
	}

	return results, nil
}

func (a *SearchAPIAdapter) mapItems(items []apiItem, source domain.Source) []domain.RawItem {
	mapped := make([]domain.RawItem, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.URL)
		if title == "" || !strings.HasPrefix(link, "http") {
			continue
		}
		mapped = append(mapped, domain.RawItem{
			Title:        title,
			BodySummary:  strings.TrimSpace(item.Description),
			CanonicalURL: link,
			PublishedAt:  parseAPIDate(item.PublishedAt, a.now),
			SourceID:     source.ID,
			MediaURL:     strings.TrimSpace(item.Thumbnail),
			AuthorName:   strings.TrimSpace(item.Author),
		})
	}
	return mapped
}

// buildQueryURL substitutes the keyword into a {query} placeholder, or
// appends it as a q parameter when the template has none.
func buildQueryURL(endpoint, keyword string) (string, error) {
	if strings.Contains(endpoint, queryPlaceholder) {
		return strings.ReplaceAll(endpoint, queryPlaceholder, url.QueryEscape(keyword)), nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	query := parsed.Query()
	query.Set("q", keyword)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// decodeItems accepts either a bare JSON array or an {items: []} envelope.
func decodeItems(body []byte) ([]apiItem, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []apiItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode item array: %w", err)
		}
		return items, nil
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode item envelope: %w", err)
	}
	return resp.Items, nil
}

func parseAPIDate(value string, now func() time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return now().UTC()
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return now().UTC()
}
