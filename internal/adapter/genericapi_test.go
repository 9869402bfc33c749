package adapter

import (
	"context"
	"net/http"
	"testing"

	"contentpulse/internal/domain"
)

func TestGenericAPIAdapterFetch(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusOK, `[
		{"title":"Great Noodle Bar","url":"https://reviews.example.com/noodles","description":"Four stars.","thumbnail":"https://cdn.example.com/noodles.jpg"},
		{"title":"","url":"https://reviews.example.com/untitled"},
		{"title":"No URL Review","url":"not-a-url"}
	]`)

	a := NewGenericAPIAdapter(server.Client(), nil)
	items, err := a.Fetch(context.Background(), domain.Source{ID: "src-reviews", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 (malformed items skipped)", len(items))
	}
	if items[0].Title != "Great Noodle Bar" || items[0].MediaURL != "https://cdn.example.com/noodles.jpg" {
		t.Errorf("item = %+v", items[0])
	}
}

func TestGenericAPIAdapterBadPayload(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusOK, `{"items": "not an array"}`)
	a := NewGenericAPIAdapter(server.Client(), nil)

	_, err := a.Fetch(context.Background(), domain.Source{ID: "src-bad", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected a decode error")
	}
}
