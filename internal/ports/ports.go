package ports

import (
	"context"
	"errors"
	"time"

	"contentpulse/internal/domain"
)

// ErrDuplicate is returned by ContentStore.Create when the canonical-URL
// uniqueness invariant rejects the write. A losing concurrent writer treats
// it as a benign duplicate, not a failure.
var ErrDuplicate = errors.New("content record already exists")

// Filter narrows ContentStore reads. Zero values mean "any".
type Filter struct {
	SourceID     string
	CanonicalURL string
	CreatedAfter time.Time
	Limit        int
}

// ContentStore is the shared persistence collaborator. Operations are
// atomic per record; no partial writes or deletes are observable.
type ContentStore interface {
	Find(ctx context.Context, filter Filter) ([]domain.ContentRecord, error)
	Create(ctx context.Context, record domain.ContentRecord) (domain.ContentRecord, error)
	Update(ctx context.Context, id string, record domain.ContentRecord) (domain.ContentRecord, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, filter Filter) (int, error)
}

// SourceRegistry lists the upstream sources eligible for scheduling.
// Deactivated sources simply stop appearing here.
type SourceRegistry interface {
	ListActive(ctx context.Context) ([]domain.Source, error)
}

// SettingsStore exposes externally-mutated settings. Watch delivers a
// signal after every settings mutation; implementations may coalesce.
type SettingsStore interface {
	RetentionPolicy(ctx context.Context) (domain.RetentionPolicy, error)
	ModerationDenylist(ctx context.Context) ([]string, error)
	AutoApprove(ctx context.Context) (bool, error)
	Watch() <-chan struct{}
}

// Notifier publishes cycle digests to an outbound channel (Telegram, etc.).
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}
