package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contentpulse/internal/domain"
)

// GenericAPIAdapter pulls a plain JSON listing endpoint (business reviews
// and similar non-feed upstreams).
type GenericAPIAdapter struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ Adapter = (*GenericAPIAdapter)(nil)

// NewGenericAPIAdapter wires an HTTP client; a nil client gets the default
// timeout.
func NewGenericAPIAdapter(client *http.Client, logger *slog.Logger) *GenericAPIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenericAPIAdapter{
		client: defaultClient(client),
		logger: logger,
		now:    time.Now,
	}
}

// Kind identifies the adapter inside the registry.
func (a *GenericAPIAdapter) Kind() domain.SourceKind {
	return domain.KindGenericAPI
}

// Fetch retrieves the endpoint once and maps every well-formed item.
// Malformed individual items are skipped.
func (a *GenericAPIAdapter) Fetch(ctx context.Context, source domain.Source) ([]domain.RawItem, error) {
	body, err := get(ctx, a.client, source.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, parseError(fmt.Errorf("source %s: %w", source.ID, err))
	}

	results := make([]domain.RawItem, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.URL)
		if title == "" || !strings.HasPrefix(link, "http") {
			a.logger.Debug("skipping malformed api item", "source", source.ID, "title", title)
			continue
		}
		results = append(results, domain.RawItem{
			Title:        title,
			BodySummary:  strings.TrimSpace(item.Description),
			CanonicalURL: link,
			PublishedAt:  parseAPIDate(item.PublishedAt, a.now),
			SourceID:     source.ID,
			MediaURL:     strings.TrimSpace(item.Thumbnail),
			AuthorName:   strings.TrimSpace(item.Author),
		})
	}

	return results, nil
}
