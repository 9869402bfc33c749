// Package engine owns the periodic triggers that drive ingestion jobs and
// retention reconciliation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"contentpulse/internal/config"
	"contentpulse/internal/domain"
	"contentpulse/internal/ingest"
	"contentpulse/internal/ports"
	"contentpulse/internal/retention"
)

// haltThreshold is how many consecutive whole-tick registry failures set
// the ingestion-halted latch.
const haltThreshold = 3

// class groups sources by cadence. Fast covers articles and reviews, slow
// covers the keyword search (video) sources.
type class int

const (
	classFast class = iota
	classSlow
)

func (c class) String() string {
	if c == classSlow {
		return "slow"
	}
	return "fast"
}

func (c class) covers(kind domain.SourceKind) bool {
	if c == classSlow {
		return kind == domain.KindSearchAPI
	}
	return kind == domain.KindRSS || kind == domain.KindGenericAPI
}

// Deps wires the engine's collaborators.
type Deps struct {
	Registry  ports.SourceRegistry
	Settings  ports.SettingsStore
	Job       *ingest.Job
	Retention *retention.Manager
	Notifier  ports.Notifier
	Logger    *slog.Logger
	Scheduler config.SchedulerConfig
}

// Engine runs the independent periodic triggers: one per content class
// plus the retention cadence. Triggers never serialize unrelated sources.
type Engine struct {
	registry  ports.SourceRegistry
	settings  ports.SettingsStore
	job       *ingest.Job
	retention *retention.Manager
	notifier  ports.Notifier
	logger    *slog.Logger
	cfg       config.SchedulerConfig
	now       func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup

	mu            sync.Mutex
	lastRun       map[string]time.Time
	storeFailures int
	halted        bool
}

// New constructs the engine.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := deps.Scheduler.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 8
	}
	return &Engine{
		registry:  deps.Registry,
		settings:  deps.Settings,
		job:       deps.Job,
		retention: deps.Retention,
		notifier:  deps.Notifier,
		logger:    logger,
		cfg:       deps.Scheduler,
		now:       time.Now,
		sem:       make(chan struct{}, maxConcurrent),
		lastRun:   map[string]time.Time{},
	}
}

// Start launches the triggers and blocks until ctx is cancelled, then
// lets in-flight jobs drain.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("engine starting",
		"fast_interval_min", e.cfg.FastIntervalMinutes,
		"slow_day_interval_min", e.cfg.SlowDayIntervalMinutes,
		"slow_night_interval_min", e.cfg.SlowNightIntervalMinutes,
		"max_concurrent", cap(e.sem))

	e.wg.Add(3)
	go e.classLoop(ctx, classFast)
	go e.classLoop(ctx, classSlow)
	go e.retentionLoop(ctx)

	<-ctx.Done()
	e.wg.Wait()
	e.logger.Info("engine stopped")
	return nil
}

// classLoop is one independent periodic trigger. The interval is
// re-evaluated after every tick so a day/night switch takes effect without
// a restart.
func (e *Engine) classLoop(ctx context.Context, c class) {
	defer e.wg.Done()

	e.runClass(ctx, c)

	for {
		interval := e.classInterval(c, e.now())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.runClass(ctx, c)
		}
	}
}

func (e *Engine) classInterval(c class, t time.Time) time.Duration {
	if c == classFast {
		return time.Duration(e.cfg.FastIntervalMinutes) * time.Minute
	}
	hour := t.In(e.cfg.Location()).Hour()
	if hour >= e.cfg.DayStartHour && hour < e.cfg.NightStartHour {
		return time.Duration(e.cfg.SlowDayIntervalMinutes) * time.Minute
	}
	return time.Duration(e.cfg.SlowNightIntervalMinutes) * time.Minute
}

// runClass runs one tick: every active source of the class whose own fetch
// interval has elapsed, fanned out under the concurrency bound.
func (e *Engine) runClass(ctx context.Context, c class) {
	sources, err := e.registry.ListActive(ctx)
	if err != nil {
		e.recordStoreFailure(err)
		return
	}
	e.recordStoreSuccess()

	now := e.now()
	due := make([]domain.Source, 0, len(sources))
	for _, source := range sources {
		if !c.covers(source.Kind) {
			continue
		}
		if !e.isDue(source, now) {
			continue
		}
		due = append(due, source)
	}
	if len(due) == 0 {
		return
	}

	// Urgent sources first when the semaphore is contended.
	sort.Slice(due, func(i, j int) bool { return due[i].Priority < due[j].Priority })

	summaries := e.fanOut(ctx, due)
	e.publishDigest(ctx, c.String(), summaries)
}

// RunIngestionOnce runs one immediate ingestion pass across every active
// source, ignoring per-source cadence but not the quota guard. This is the
// manual-trigger and backfill entry point.
func (e *Engine) RunIngestionOnce(ctx context.Context) ([]domain.RunSummary, error) {
	sources, err := e.registry.ListActive(ctx)
	if err != nil {
		e.recordStoreFailure(err)
		return nil, fmt.Errorf("list sources: %w", err)
	}
	e.recordStoreSuccess()

	now := e.now()
	e.mu.Lock()
	for _, source := range sources {
		e.lastRun[source.ID] = now
	}
	e.mu.Unlock()

	return e.fanOut(ctx, sources), nil
}

// RunRetentionNow runs one reconciliation pass with the current policy.
func (e *Engine) RunRetentionNow(ctx context.Context) (domain.ReconcileResult, error) {
	policy, err := e.settings.RetentionPolicy(ctx)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("load retention policy: %w", err)
	}
	return e.retention.Reconcile(ctx, policy)
}

func (e *Engine) fanOut(ctx context.Context, sources []domain.Source) []domain.RunSummary {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries = make([]domain.RunSummary, 0, len(sources))
	)

	for _, source := range sources {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return summaries
		}

		wg.Add(1)
		go func(src domain.Source) {
			defer wg.Done()
			defer func() { <-e.sem }()

			summary := e.job.Run(ctx, src)

			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
		}(source)
	}

	wg.Wait()
	return summaries
}

func (e *Engine) retentionLoop(ctx context.Context) {
	defer e.wg.Done()

	every := time.Duration(e.cfg.FastIntervalMinutes) * time.Minute
	if policy, err := e.settings.RetentionPolicy(ctx); err == nil && policy.CleanupFrequencyMinutes > 0 {
		every = time.Duration(policy.CleanupFrequencyMinutes) * time.Minute
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			policy, err := e.settings.RetentionPolicy(ctx)
			if err != nil {
				e.logger.Warn("retention policy unavailable, skipping pass", "error", err)
				continue
			}
			if _, err := e.retention.Reconcile(ctx, policy); err != nil {
				e.logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

func (e *Engine) isDue(source domain.Source, now time.Time) bool {
	interval := time.Duration(source.FetchIntervalMinutes) * time.Minute

	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastRun[source.ID]
	if ok && now.Sub(last) < interval {
		return false
	}
	e.lastRun[source.ID] = now
	return true
}

func (e *Engine) publishDigest(ctx context.Context, className string, summaries []domain.RunSummary) {
	if e.notifier == nil || len(summaries) == 0 {
		return
	}
	// Side effect of the tick result, outside every job's write path.
	if err := e.notifier.PublishDigest(ctx, buildDigest(className, summaries)); err != nil {
		e.logger.Warn("digest publish failed", "error", err)
	}
}

func buildDigest(className string, summaries []domain.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingestion tick (%s class)\n", className)
	for _, s := range summaries {
		switch s.Outcome {
		case domain.OutcomeSkipped:
			fmt.Fprintf(&b, "- %s: skipped (%s)\n", s.SourceID, s.SkipReason)
		case domain.OutcomeFailed:
			fmt.Fprintf(&b, "- %s: failed (%d errors)\n", s.SourceID, s.Errors)
		default:
			fmt.Fprintf(&b, "- %s: seen %d, filtered %d, duplicate %d, created %d\n",
				s.SourceID, s.Seen, s.Filtered, s.Duplicate, s.Created)
		}
	}
	return b.String()
}

func (e *Engine) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

func (e *Engine) recordStoreFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storeFailures++
	if e.storeFailures >= haltThreshold && !e.halted {
		e.halted = true
		e.logger.Error("ingestion halted: source registry unreachable", "error", err)
		return
	}
	e.logger.Error("source registry unavailable", "error", err, "consecutive", e.storeFailures)
}

func (e *Engine) recordStoreSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		e.logger.Info("ingestion resumed")
	}
	e.storeFailures = 0
	e.halted = false
}
