package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"contentpulse/internal/adapter"
	"contentpulse/internal/domain"
	"contentpulse/internal/ports"
)

// defaultSnapshotLimit bounds the dedup snapshot when the retention cap is
// unset, so an uncapped store cannot make snapshots unbounded.
const defaultSnapshotLimit = 2000

// JobDeps wires the collaborators of the ingestion job.
type JobDeps struct {
	Store    ports.ContentStore
	Settings ports.SettingsStore
	Adapters *adapter.Registry
	Guard    *Guard
	Logger   *slog.Logger
}

// Job runs one fetch cycle for one source: guard check, adapter fetch,
// moderation filter, dedup, store write. Failures stay confined to the
// source; sibling jobs in the same tick are never aborted.
type Job struct {
	store         ports.ContentStore
	settings      ports.SettingsStore
	adapters      *adapter.Registry
	guard         *Guard
	logger        *slog.Logger
	now           func() time.Time
	snapshotLimit int
}

// NewJob constructs the ingestion job runner.
func NewJob(deps JobDeps) *Job {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:         deps.Store,
		settings:      deps.Settings,
		adapters:      deps.Adapters,
		guard:         deps.Guard,
		logger:        logger,
		now:           time.Now,
		snapshotLimit: defaultSnapshotLimit,
	}
}

// SetClock injects a fake clock for tests.
func (j *Job) SetClock(now func() time.Time) {
	j.now = now
}

// Run executes one cycle for the source and returns its summary. Adapter
// and store errors are retried only on the next scheduled cycle.
func (j *Job) Run(ctx context.Context, source domain.Source) domain.RunSummary {
	started := j.now()
	summary := domain.RunSummary{SourceID: source.ID, Outcome: domain.OutcomeCompleted}
	logger := j.logger.With("source", source.ID, "kind", source.Kind)

	finish := func(s domain.RunSummary) domain.RunSummary {
		s.Duration = j.now().Sub(started)
		return s
	}

	if allowed, reason := j.guard.Allow(source); !allowed {
		logger.Info("skipped", "reason", reason)
		summary.Outcome = domain.OutcomeSkipped
		summary.SkipReason = reason
		return finish(summary)
	}

	src, err := j.adapters.Resolve(source.Kind)
	if err != nil {
		logger.Error("no adapter for source", "error", err)
		summary.Outcome = domain.OutcomeFailed
		summary.Errors++
		return finish(summary)
	}

	items, err := src.Fetch(ctx, source)
	if err != nil {
		if adapter.IsQuotaExceeded(err) {
			until := j.guard.RecordQuotaExceeded(source.ID)
			logger.Info("skipped", "reason", "quota exceeded", "backoff_until", until)
			summary.Outcome = domain.OutcomeSkipped
			summary.SkipReason = "quota exceeded"
			return finish(summary)
		}
		logger.Error("fetch failed", "error", err)
		summary.Outcome = domain.OutcomeFailed
		summary.Errors++
		return finish(summary)
	}
	j.guard.RecordSuccess(source.ID)

	// Fresh snapshot per job; a stale cache would let two near-simultaneous
	// fetches of the same story both pass.
	snapshot, err := j.store.Find(ctx, ports.Filter{Limit: j.snapshotLimit})
	if err != nil {
		logger.Error("store snapshot failed", "error", err)
		summary.Outcome = domain.OutcomeFailed
		summary.Errors++
		return finish(summary)
	}
	index := NewIndex(snapshot)

	denylist, err := j.settings.ModerationDenylist(ctx)
	if err != nil {
		logger.Warn("denylist unavailable, filtering disabled for this cycle", "error", err)
		denylist = nil
	}

	status := domain.StatusApproved
	if auto, err := j.settings.AutoApprove(ctx); err == nil && !auto {
		status = domain.StatusPending
	}

	for _, item := range items {
		summary.Seen++

		if !IsAllowed(item, denylist) {
			logger.Debug("rejected by moderation filter", "title", item.Title)
			summary.Filtered++
			continue
		}

		if reason, holder, dup := index.Match(item); dup {
			if reason == MatchTitle {
				logger.Debug("duplicate by normalized title",
					"title", item.Title, "held_by_source", holder)
			}
			summary.Duplicate++
			continue
		}

		record := j.buildRecord(item, status)
		if _, err := j.store.Create(ctx, record); err != nil {
			if errors.Is(err, ports.ErrDuplicate) {
				// A concurrent job won the write; benign.
				summary.Duplicate++
				index.Add(item)
				continue
			}
			logger.Error("store write failed", "url", item.CanonicalURL, "error", err)
			summary.Errors++
			continue
		}

		summary.Created++
		index.Add(item)
	}

	logger.Info("cycle complete",
		"seen", summary.Seen,
		"filtered", summary.Filtered,
		"duplicate", summary.Duplicate,
		"created", summary.Created,
		"errors", summary.Errors)

	return finish(summary)
}

func (j *Job) buildRecord(item domain.RawItem, status domain.ModerationStatus) domain.ContentRecord {
	return domain.ContentRecord{
		Title:            item.Title,
		CanonicalURL:     NormalizeURL(item.CanonicalURL),
		NormalizedTitle:  NormalizeTitle(item.Title),
		BodySummary:      item.BodySummary,
		MediaURL:         item.MediaURL,
		AuthorName:       item.AuthorName,
		PublishedAt:      item.PublishedAt,
		CreatedAt:        j.now().UTC(),
		SourceID:         item.SourceID,
		ModerationStatus: status,
	}
}
