// Package adapter fetches raw items from upstream sources, one adapter
// variant per source kind.
package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"contentpulse/internal/domain"
)

const (
	// DefaultTimeout bounds every upstream HTTP call.
	DefaultTimeout = 10 * time.Second

	userAgent   = "contentpulse/1.0"
	maxBodySize = 10 << 20
)

// Adapter fetches and normalizes items for one source kind.
type Adapter interface {
	Kind() domain.SourceKind
	Fetch(ctx context.Context, source domain.Source) ([]domain.RawItem, error)
}

// Registry keeps a mapping from source kinds to their adapters.
type Registry struct {
	adapters map[domain.SourceKind]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[domain.SourceKind]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(a Adapter) {
	if r.adapters == nil {
		r.adapters = map[domain.SourceKind]Adapter{}
	}
	r.adapters[a.Kind()] = a
}

// Resolve returns the adapter for a source kind or an error if it is absent.
func (r *Registry) Resolve(kind domain.SourceKind) (Adapter, error) {
	if a, ok := r.adapters[kind]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for kind %q", kind)
}

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return client
}

// get performs one bounded upstream call and hands back the body, already
// classified into the FetchError taxonomy on failure.
func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, parseError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, transportError(err)
	}

	return body, nil
}
