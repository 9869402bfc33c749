package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"contentpulse/internal/domain"
	"contentpulse/internal/ports"
	"contentpulse/internal/retention"
)

// Backfiller runs one immediate ingestion pass across all active sources.
type Backfiller interface {
	RunIngestionOnce(ctx context.Context) ([]domain.RunSummary, error)
}

// Watcher reacts to external settings mutations. A changed maxItemCount
// triggers an out-of-band reconciliation: immediately on a decrease,
// backfill-then-reconcile on an increase. Overlap is prevented by the
// retention manager's single-flight coalescing.
type Watcher struct {
	settings   ports.SettingsStore
	retention  *retention.Manager
	backfiller Backfiller
	logger     *slog.Logger

	mu      sync.Mutex
	lastMax int
}

// NewWatcher constructs the settings watcher.
func NewWatcher(settings ports.SettingsStore, manager *retention.Manager, backfiller Backfiller, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		settings:   settings,
		retention:  manager,
		backfiller: backfiller,
		logger:     logger,
		lastMax:    -1,
	}
}

// Start consumes change notifications until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if policy, err := w.settings.RetentionPolicy(ctx); err == nil {
		w.mu.Lock()
		w.lastMax = policy.MaxItemCount
		w.mu.Unlock()
	}

	changes := w.settings.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			w.handleChange(ctx)
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context) {
	policy, err := w.settings.RetentionPolicy(ctx)
	if err != nil {
		// Malformed settings: skip reconciliation until corrected.
		w.logger.Warn("settings unreadable, reconciliation suspended", "error", err)
		return
	}

	w.mu.Lock()
	previous := w.lastMax
	w.lastMax = policy.MaxItemCount
	w.mu.Unlock()

	if previous == policy.MaxItemCount {
		return
	}

	if previous >= 0 && policy.MaxItemCount > previous {
		w.logger.Info("retention cap raised, backfilling",
			"previous", previous, "new", policy.MaxItemCount)
		go func() {
			backfillCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			if _, err := w.backfiller.RunIngestionOnce(backfillCtx); err != nil {
				w.logger.Error("backfill pass failed", "error", err)
			}
			w.retention.TriggerAsync(ctx, policy)
		}()
		return
	}

	w.logger.Info("retention cap lowered, reconciling",
		"previous", previous, "new", policy.MaxItemCount)
	w.retention.TriggerAsync(ctx, policy)
}
