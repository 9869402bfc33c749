package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"contentpulse/internal/domain"
)

// Guard owns all per-source quota bookkeeping. Adapters never
// self-throttle; this is the only place call counts and backoff live.
type Guard struct {
	mu     sync.Mutex
	states map[string]*domain.QuotaState

	baseDelay time.Duration
	maxDelay  time.Duration
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard builds a guard. Daily counters roll over at midnight in loc.
func NewGuard(baseDelay, maxDelay time.Duration, loc *time.Location, logger *slog.Logger) *Guard {
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		states:    map[string]*domain.QuotaState{},
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		location:  loc,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock injects a fake clock for tests.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Allow checks whether the source may be called this cycle. A false return
// is a deliberate no-op for the cycle, not an error; the reason explains it.
func (g *Guard) Allow(source domain.Source) (bool, string) {
	if !source.IsActive {
		return false, "source inactive"
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.location)
	state := g.state(source.ID, now)

	if now.Before(state.BackoffUntil) {
		return false, fmt.Sprintf("in backoff until %s", state.BackoffUntil.Format(time.RFC3339))
	}

	g.rollWindows(state, now)

	if source.DailyQuota > 0 && state.CallsToday >= source.DailyQuota {
		return false, fmt.Sprintf("daily quota exhausted (%d/%d)", state.CallsToday, source.DailyQuota)
	}
	if source.PerMinuteQuota > 0 && state.CallsThisMinute >= source.PerMinuteQuota {
		return false, fmt.Sprintf("per-minute quota exhausted (%d/%d)", state.CallsThisMinute, source.PerMinuteQuota)
	}

	return true, ""
}

// RecordSuccess resets the failure streak and counts the call against the
// daily and per-minute windows.
func (g *Guard) RecordSuccess(sourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.location)
	state := g.state(sourceID, now)
	g.rollWindows(state, now)

	state.ConsecutiveFailures = 0
	state.BackoffUntil = time.Time{}
	state.CallsToday++
	state.CallsThisMinute++
}

// RecordQuotaExceeded applies exponential backoff: baseDelay doubled per
// consecutive failure, capped at maxDelay. The source is not retried
// within the same cycle.
func (g *Guard) RecordQuotaExceeded(sourceID string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().In(g.location)
	state := g.state(sourceID, now)

	state.ConsecutiveFailures++
	delay := g.baseDelay
	for i := 0; i < state.ConsecutiveFailures; i++ {
		delay *= 2
		if delay >= g.maxDelay {
			delay = g.maxDelay
			break
		}
	}
	state.BackoffUntil = now.Add(delay)

	g.logger.Warn("quota exceeded, backing off",
		"source", sourceID,
		"failures", state.ConsecutiveFailures,
		"backoff_until", state.BackoffUntil)

	return state.BackoffUntil
}

// State returns a copy of the bookkeeping for one source.
func (g *Guard) State(sourceID string) domain.QuotaState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.state(sourceID, g.now().In(g.location))
	return *state
}

func (g *Guard) state(sourceID string, now time.Time) *domain.QuotaState {
	state, ok := g.states[sourceID]
	if !ok {
		state = &domain.QuotaState{
			WindowStartedAt: startOfDay(now),
			MinuteWindow:    now.Truncate(time.Minute),
		}
		g.states[sourceID] = state
	}
	return state
}

// rollWindows resets the daily counter when the local day changed and the
// minute counter when the minute changed.
func (g *Guard) rollWindows(state *domain.QuotaState, now time.Time) {
	if day := startOfDay(now); !day.Equal(state.WindowStartedAt) {
		state.WindowStartedAt = day
		state.CallsToday = 0
	}
	if minute := now.Truncate(time.Minute); !minute.Equal(state.MinuteWindow) {
		state.MinuteWindow = minute
		state.CallsThisMinute = 0
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
