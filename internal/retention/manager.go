// Package retention enforces the size and age policy against the content
// store.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"contentpulse/internal/domain"
	"contentpulse/internal/ports"
)

// Manager reconciles stored records against the retention policy. At most
// one reconciliation runs at a time; triggers arriving mid-pass coalesce
// into a single follow-up run.
type Manager struct {
	store  ports.ContentStore
	logger *slog.Logger
	now    func() time.Time

	runMu sync.Mutex // held for the duration of one pass

	mu      sync.Mutex // guards the async coalescing state below
	running bool
	pending bool
	queued  domain.RetentionPolicy
}

// NewManager constructs the retention manager.
func NewManager(store ports.ContentStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock injects a fake clock for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Reconcile runs one pass synchronously. Concurrent callers serialize; the
// pass never overlaps with itself.
func (m *Manager) Reconcile(ctx context.Context, policy domain.RetentionPolicy) (domain.ReconcileResult, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.reconcileOnce(ctx, policy)
}

// TriggerAsync requests a pass without blocking. If one is already in
// flight the request is coalesced: exactly one follow-up pass runs with
// the latest policy after the current pass completes.
func (m *Manager) TriggerAsync(ctx context.Context, policy domain.RetentionPolicy) {
	m.mu.Lock()
	if m.running {
		m.pending = true
		m.queued = policy
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		current := policy
		for {
			if _, err := m.Reconcile(ctx, current); err != nil {
				m.logger.Error("reconciliation failed", "error", err)
			}

			m.mu.Lock()
			if m.pending {
				m.pending = false
				current = m.queued
				m.mu.Unlock()
				continue
			}
			m.running = false
			m.mu.Unlock()
			return
		}
	}()
}

func (m *Manager) reconcileOnce(ctx context.Context, policy domain.RetentionPolicy) (domain.ReconcileResult, error) {
	records, err := m.store.Find(ctx, ports.Filter{})
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("load records: %w", err)
	}

	// Newest first; the count pass deletes from the tail.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	var preserved, candidates []domain.ContentRecord
	for _, record := range records {
		if record.Preserved(policy.PreservePinned, policy.PreserveFeatured) {
			preserved = append(preserved, record)
		} else {
			candidates = append(candidates, record)
		}
	}

	var doomed []domain.ContentRecord

	if policy.MaxAgeHours > 0 {
		cutoff := m.now().Add(-time.Duration(policy.MaxAgeHours) * time.Hour)
		kept := candidates[:0]
		for _, record := range candidates {
			if record.PublishedAt.Before(cutoff) {
				doomed = append(doomed, record)
			} else {
				kept = append(kept, record)
			}
		}
		candidates = kept
	}

	if policy.MaxItemCount > 0 {
		total := len(preserved) + len(candidates)
		for total > policy.MaxItemCount && len(candidates) > 0 {
			last := len(candidates) - 1
			doomed = append(doomed, candidates[last])
			candidates = candidates[:last]
			total--
		}
	}

	deleted := 0
	for _, record := range doomed {
		// Deletions are independent; one failure never aborts the batch.
		if err := m.store.Delete(ctx, record.ID); err != nil {
			m.logger.Error("delete failed", "id", record.ID, "error", err)
			continue
		}
		deleted++
	}

	result := domain.ReconcileResult{
		DeletedCount: deleted,
		FinalCount:   len(records) - deleted,
		MaxLimit:     policy.MaxItemCount,
	}

	// Preserved records may keep the total above the cap. That is expected:
	// pinned and featured content is never deleted to satisfy a count cap.
	if policy.MaxItemCount > 0 && len(preserved) > policy.MaxItemCount {
		m.logger.Warn("preserved records exceed the cap",
			"preserved", len(preserved), "max", policy.MaxItemCount)
	}

	m.logger.Info("reconciliation complete",
		"deleted", result.DeletedCount,
		"final", result.FinalCount,
		"max", result.MaxLimit)

	return result, nil
}
