package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"contentpulse/internal/adapter"
	"contentpulse/internal/config"
	"contentpulse/internal/domain"
	"contentpulse/internal/infrastructure/storage"
	"contentpulse/internal/ingest"
	"contentpulse/internal/ports"
	"contentpulse/internal/retention"
)

type stubAdapter struct {
	kind  domain.SourceKind
	items []domain.RawItem
}

func (s *stubAdapter) Kind() domain.SourceKind { return s.kind }

func (s *stubAdapter) Fetch(context.Context, domain.Source) ([]domain.RawItem, error) {
	return s.items, nil
}

type failingRegistry struct{}

func (failingRegistry) ListActive(context.Context) ([]domain.Source, error) {
	return nil, errors.New("connection refused")
}

func testScheduler() config.SchedulerConfig {
	return config.SchedulerConfig{
		FastIntervalMinutes:      5,
		SlowDayIntervalMinutes:   30,
		SlowNightIntervalMinutes: 120,
		DayStartHour:             6,
		NightStartHour:           22,
		MaxConcurrent:            4,
	}
}

func newTestEngine(t *testing.T, sources []domain.Source) (*Engine, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	settings := storage.NewMemorySettings(
		domain.RetentionPolicy{MaxItemCount: 100, PreservePinned: true, PreserveFeatured: true},
		nil, true,
	)

	adapters := adapter.NewRegistry()
	adapters.Register(&stubAdapter{kind: domain.KindRSS, items: []domain.RawItem{
		{Title: "Feed Story", CanonicalURL: "https://example.com/feed-story", SourceID: "src-rss"},
	}})
	adapters.Register(&stubAdapter{kind: domain.KindSearchAPI, items: []domain.RawItem{
		{Title: "Search Hit", CanonicalURL: "https://example.com/search-hit", SourceID: "src-search"},
	}})

	job := ingest.NewJob(ingest.JobDeps{
		Store:    store,
		Settings: settings,
		Adapters: adapters,
		Guard:    ingest.NewGuard(time.Minute, time.Hour, time.UTC, nil),
	})

	engine := New(Deps{
		Registry:  storage.NewMemoryRegistry(sources),
		Settings:  settings,
		Job:       job,
		Retention: retention.NewManager(store, nil),
		Scheduler: testScheduler(),
	})
	return engine, store
}

func TestClassCoversKinds(t *testing.T) {
	t.Parallel()

	if !classFast.covers(domain.KindRSS) || !classFast.covers(domain.KindGenericAPI) {
		t.Error("fast class must cover rss and generic_api")
	}
	if classFast.covers(domain.KindSearchAPI) {
		t.Error("fast class must not cover search_api")
	}
	if !classSlow.covers(domain.KindSearchAPI) {
		t.Error("slow class must cover search_api")
	}
}

func TestClassIntervalDayNightBand(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	noon := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if got := e.classInterval(classSlow, noon); got != 30*time.Minute {
		t.Errorf("daytime slow interval = %v, want 30m", got)
	}

	night := time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)
	if got := e.classInterval(classSlow, night); got != 120*time.Minute {
		t.Errorf("night slow interval = %v, want 2h", got)
	}

	earlyMorning := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	if got := e.classInterval(classSlow, earlyMorning); got != 120*time.Minute {
		t.Errorf("pre-dawn slow interval = %v, want 2h", got)
	}

	if got := e.classInterval(classFast, night); got != 5*time.Minute {
		t.Errorf("fast interval = %v, want 5m regardless of hour", got)
	}
}

func TestRunClassRespectsPerSourceInterval(t *testing.T) {
	t.Parallel()

	sources := []domain.Source{{
		ID: "src-rss", Kind: domain.KindRSS, IsActive: true, FetchIntervalMinutes: 30,
	}}
	e, store := newTestEngine(t, sources)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	ctx := context.Background()
	e.runClass(ctx, classFast)
	if count, _ := store.Count(ctx, ports.Filter{}); count != 1 {
		t.Fatalf("first tick stored %d records, want 1", count)
	}

	// Five minutes later the 30-minute source is not due again.
	e.now = func() time.Time { return base.Add(5 * time.Minute) }
	e.runClass(ctx, classFast)

	e.now = func() time.Time { return base.Add(31 * time.Minute) }
	e.runClass(ctx, classFast)

	e.mu.Lock()
	last := e.lastRun["src-rss"]
	e.mu.Unlock()
	if !last.Equal(base.Add(31 * time.Minute)) {
		t.Errorf("lastRun = %s, want the 31-minute tick", last)
	}
}

func TestRunClassFiltersByKind(t *testing.T) {
	t.Parallel()

	sources := []domain.Source{
		{ID: "src-rss", Kind: domain.KindRSS, IsActive: true, FetchIntervalMinutes: 1},
		{ID: "src-search", Kind: domain.KindSearchAPI, IsActive: true, FetchIntervalMinutes: 1},
	}
	e, store := newTestEngine(t, sources)

	ctx := context.Background()
	e.runClass(ctx, classSlow)

	records, err := store.Find(ctx, ports.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(records) != 1 || records[0].SourceID != "src-search" {
		t.Fatalf("slow tick wrote %d records, want only the search source's", len(records))
	}
}

func TestHaltLatchAfterConsecutiveRegistryFailures(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	e.registry = failingRegistry{}

	ctx := context.Background()
	for i := 0; i < haltThreshold; i++ {
		if e.isHalted() {
			t.Fatalf("halted after %d failures, threshold is %d", i, haltThreshold)
		}
		e.runClass(ctx, classFast)
	}
	if !e.isHalted() {
		t.Fatal("engine must latch halted after consecutive registry failures")
	}

	// A successful listing clears the latch.
	e.registry = storage.NewMemoryRegistry(nil)
	e.runClass(ctx, classFast)
	if e.isHalted() {
		t.Fatal("halt latch must clear once the registry recovers")
	}
}

func TestRunIngestionOnceIgnoresCadence(t *testing.T) {
	t.Parallel()

	sources := []domain.Source{
		{ID: "src-rss", Kind: domain.KindRSS, IsActive: true, FetchIntervalMinutes: 60},
		{ID: "src-search", Kind: domain.KindSearchAPI, IsActive: true, FetchIntervalMinutes: 60},
	}
	e, _ := newTestEngine(t, sources)

	summaries, err := e.RunIngestionOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want every active source", len(summaries))
	}
}

func TestRunRetentionNow(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		created := base.Add(-time.Duration(i) * time.Hour)
		_, err := store.Create(ctx, domain.ContentRecord{
			Title:        string(rune('a' + i)),
			CanonicalURL: "https://example.com/" + string(rune('a'+i)),
			PublishedAt:  created,
			CreatedAt:    created,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	e.settings.(*storage.MemorySettings).SetRetentionPolicy(domain.RetentionPolicy{MaxItemCount: 2})
	result, err := e.RunRetentionNow(ctx)
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if result.DeletedCount != 4 || result.FinalCount != 2 {
		t.Fatalf("result = %+v, want deleted 4, final 2", result)
	}
}

func TestBuildDigest(t *testing.T) {
	t.Parallel()

	digest := buildDigest("fast", []domain.RunSummary{
		{SourceID: "src-a", Outcome: domain.OutcomeCompleted, Seen: 5, Created: 2},
		{SourceID: "src-b", Outcome: domain.OutcomeSkipped, SkipReason: "quota exceeded"},
		{SourceID: "src-c", Outcome: domain.OutcomeFailed, Errors: 1},
	})

	for _, want := range []string{"src-a", "created 2", "skipped (quota exceeded)", "failed (1 errors)"} {
		if !strings.Contains(digest, want) {
			t.Errorf("digest missing %q:\n%s", want, digest)
		}
	}
}
