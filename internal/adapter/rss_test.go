package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contentpulse/internal/domain"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>City News</title>
    <item>
      <title>Storm Hits The Coast</title>
      <link>https://news.example.com/storm</link>
      <description><![CDATA[<p>Heavy rain expected. <img src="/images/storm.jpg"></p>]]></description>
      <dc:creator>Jane Reporter</dc:creator>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
    </item>
    <item>
      <title>Festival Announced</title>
      <link>https://news.example.com/festival</link>
      <description>Music festival next month.</description>
      <enclosure url="https://cdn.example.com/festival.png" type="image/png"/>
      <media:thumbnail url="https://cdn.example.com/festival-thumb.png"/>
    </item>
    <item>
      <title></title>
      <link>https://news.example.com/untitled</link>
    </item>
    <item>
      <title>No Link At All</title>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Dev Blog</title>
  <entry>
    <title>Release Notes</title>
    <link rel="alternate" href="https://blog.example.com/release"/>
    <summary>What changed this week.</summary>
    <author><name>Team</name></author>
    <published>2026-07-01T08:00:00Z</published>
  </entry>
</feed>`

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRSSAdapterFetch(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusOK, rssFixture)
	a := NewRSSAdapter(server.Client(), nil)

	items, err := a.Fetch(context.Background(), domain.Source{ID: "src-rss", Endpoint: server.URL + "/feed"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (malformed entries skipped)", len(items))
	}

	storm := items[0]
	if storm.Title != "Storm Hits The Coast" {
		t.Errorf("title = %q", storm.Title)
	}
	if storm.CanonicalURL != "https://news.example.com/storm" {
		t.Errorf("url = %q", storm.CanonicalURL)
	}
	if storm.AuthorName != "Jane Reporter" {
		t.Errorf("author = %q, want dc:creator fallback", storm.AuthorName)
	}
	wantDate := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !storm.PublishedAt.Equal(wantDate) {
		t.Errorf("published = %s, want %s", storm.PublishedAt, wantDate)
	}
	if storm.MediaURL != server.URL+"/images/storm.jpg" {
		t.Errorf("media = %q, want inline img resolved against the feed origin", storm.MediaURL)
	}
	if storm.BodySummary == "" || storm.BodySummary[0] == '<' {
		t.Errorf("body summary still carries markup: %q", storm.BodySummary)
	}

	festival := items[1]
	if festival.MediaURL != "https://cdn.example.com/festival-thumb.png" {
		t.Errorf("media = %q, want the thumbnail over the enclosure", festival.MediaURL)
	}
}

func TestRSSAdapterFetchAtom(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusOK, atomFixture)
	a := NewRSSAdapter(server.Client(), nil)

	items, err := a.Fetch(context.Background(), domain.Source{ID: "src-atom", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	entry := items[0]
	if entry.CanonicalURL != "https://blog.example.com/release" {
		t.Errorf("url = %q, want the alternate link", entry.CanonicalURL)
	}
	if entry.AuthorName != "Team" {
		t.Errorf("author = %q", entry.AuthorName)
	}
	want := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	if !entry.PublishedAt.Equal(want) {
		t.Errorf("published = %s, want %s", entry.PublishedAt, want)
	}
}

func TestRSSAdapterUnparseableDocument(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusOK, "this is not xml")
	a := NewRSSAdapter(server.Client(), nil)

	_, err := a.Fetch(context.Background(), domain.Source{ID: "src-bad", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrParse {
		t.Fatalf("error = %v, want parse classification", err)
	}
}

func TestRSSAdapterQuotaStatus(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusTooManyRequests, "slow down")
	a := NewRSSAdapter(server.Client(), nil)

	_, err := a.Fetch(context.Background(), domain.Source{ID: "src-429", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected an error for 429")
	}
	if !IsQuotaExceeded(err) {
		t.Fatalf("error = %v, want quota-exceeded classification", err)
	}
}

func TestRSSAdapterServerError(t *testing.T) {
	t.Parallel()

	server := feedServer(t, http.StatusInternalServerError, "boom")
	a := NewRSSAdapter(server.Client(), nil)

	_, err := a.Fetch(context.Background(), domain.Source{ID: "src-500", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected an error for 500")
	}
	if IsQuotaExceeded(err) {
		t.Fatal("500 must not classify as quota-exceeded")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrHTTPStatus || fe.Status != http.StatusInternalServerError {
		t.Fatalf("error = %v, want http_status 500", err)
	}
}
