package domain

import "time"

// RetentionPolicy is the externally-mutated part of Settings that the
// Retention Manager reconciles the store against.
type RetentionPolicy struct {
	MaxItemCount            int
	MaxAgeHours             int
	PreservePinned          bool
	PreserveFeatured        bool
	CleanupFrequencyMinutes int
}

// QuotaState tracks per-source call bookkeeping. CallsToday resets at the
// start of each day in the guard's configured timezone.
type QuotaState struct {
	CallsToday          int
	WindowStartedAt     time.Time
	MinuteWindow        time.Time
	CallsThisMinute     int
	ConsecutiveFailures int
	BackoffUntil        time.Time
}

// RunOutcome classifies one per-source ingestion cycle.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeSkipped   RunOutcome = "skipped"
	OutcomeFailed    RunOutcome = "failed"
)

// RunSummary is the per-source, per-cycle result exposed to the
// surrounding application.
type RunSummary struct {
	SourceID   string
	Outcome    RunOutcome
	SkipReason string
	Seen       int
	Filtered   int
	Duplicate  int
	Created    int
	Errors     int
	Duration   time.Duration
}

// ReconcileResult summarizes one retention reconciliation pass.
type ReconcileResult struct {
	DeletedCount int
	FinalCount   int
	MaxLimit     int
}
