package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"contentpulse/internal/domain"
	"contentpulse/internal/infrastructure/storage"
	"contentpulse/internal/ports"
	"contentpulse/internal/retention"
)

type recordingBackfiller struct {
	calls chan struct{}
}

func (b *recordingBackfiller) RunIngestionOnce(context.Context) ([]domain.RunSummary, error) {
	b.calls <- struct{}{}
	return nil, nil
}

func seedStore(t *testing.T, store *storage.MemoryStore, count int) {
	t.Helper()
	base := time.Now().UTC()
	for i := 0; i < count; i++ {
		created := base.Add(-time.Duration(i) * time.Hour)
		_, err := store.Create(context.Background(), domain.ContentRecord{
			Title:        fmt.Sprintf("Record %d", i),
			CanonicalURL: fmt.Sprintf("https://example.com/%d", i),
			PublishedAt:  created,
			CreatedAt:    created,
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func waitForCount(t *testing.T, store *storage.MemoryStore, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.Count(context.Background(), ports.Filter{})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	count, _ := store.Count(context.Background(), ports.Filter{})
	t.Fatalf("store count = %d, want %d", count, want)
}

func TestWatcherCapDecreaseReconcilesImmediately(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedStore(t, store, 8)

	settings := storage.NewMemorySettings(domain.RetentionPolicy{MaxItemCount: 8}, nil, true)
	manager := retention.NewManager(store, nil)
	w := NewWatcher(settings, manager, &recordingBackfiller{calls: make(chan struct{}, 1)}, nil)
	w.lastMax = 8

	settings.SetRetentionPolicy(domain.RetentionPolicy{MaxItemCount: 3})
	w.handleChange(context.Background())

	waitForCount(t, store, 3)
}

func TestWatcherCapIncreaseBackfillsThenReconciles(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedStore(t, store, 12)

	settings := storage.NewMemorySettings(domain.RetentionPolicy{MaxItemCount: 5}, nil, true)
	manager := retention.NewManager(store, nil)
	backfiller := &recordingBackfiller{calls: make(chan struct{}, 1)}
	w := NewWatcher(settings, manager, backfiller, nil)
	w.lastMax = 5

	settings.SetRetentionPolicy(domain.RetentionPolicy{MaxItemCount: 10})
	w.handleChange(context.Background())

	select {
	case <-backfiller.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("cap increase must trigger a backfill pass")
	}

	// After the backfill the new, larger cap is enforced.
	waitForCount(t, store, 10)
}

func TestWatcherIgnoresUnchangedCap(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedStore(t, store, 8)

	settings := storage.NewMemorySettings(domain.RetentionPolicy{MaxItemCount: 8}, nil, true)
	manager := retention.NewManager(store, nil)
	backfiller := &recordingBackfiller{calls: make(chan struct{}, 1)}
	w := NewWatcher(settings, manager, backfiller, nil)
	w.lastMax = 8

	// Denylist changes touch settings without moving the cap.
	settings.SetDenylist([]string{"spam"})
	w.handleChange(context.Background())

	time.Sleep(50 * time.Millisecond)
	select {
	case <-backfiller.calls:
		t.Fatal("unchanged cap must not trigger a backfill")
	default:
	}
	count, err := store.Count(context.Background(), ports.Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Fatalf("store count = %d, want untouched 8", count)
	}
}

func TestWatcherStartConsumesNotifications(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedStore(t, store, 8)

	settings := storage.NewMemorySettings(domain.RetentionPolicy{MaxItemCount: 8}, nil, true)
	manager := retention.NewManager(store, nil)
	w := NewWatcher(settings, manager, &recordingBackfiller{calls: make(chan struct{}, 1)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give Start a moment to seed the baseline cap before mutating.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		seeded := w.lastMax == 8
		w.mu.Unlock()
		if seeded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	settings.SetRetentionPolicy(domain.RetentionPolicy{MaxItemCount: 4})
	waitForCount(t, store, 4)
}
