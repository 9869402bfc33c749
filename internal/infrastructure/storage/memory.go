package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"contentpulse/internal/domain"
	"contentpulse/internal/ports"
)

// MemoryStore is a mutex-guarded in-memory content store. It backs tests
// and DSN-less dry runs, and enforces the same canonical-URL uniqueness
// invariant as Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.ContentRecord
	byURL   map[string]string
}

var _ ports.ContentStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]domain.ContentRecord{},
		byURL:   map[string]string{},
	}
}

// Find returns records matching the filter, newest first.
func (s *MemoryStore) Find(_ context.Context, filter ports.Filter) ([]domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.ContentRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.SourceID != "" && record.SourceID != filter.SourceID {
			continue
		}
		if filter.CanonicalURL != "" && record.CanonicalURL != filter.CanonicalURL {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !record.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		matched = append(matched, record)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Create inserts one record, rejecting canonical-URL collisions with
// ports.ErrDuplicate.
func (s *MemoryStore) Create(_ context.Context, record domain.ContentRecord) (domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byURL[record.CanonicalURL]; exists {
		return domain.ContentRecord{}, fmt.Errorf("url %s: %w", record.CanonicalURL, ports.ErrDuplicate)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.records[record.ID] = record
	s.byURL[record.CanonicalURL] = record.ID
	return record, nil
}

// Update overwrites one record.
func (s *MemoryStore) Update(_ context.Context, id string, record domain.ContentRecord) (domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		return domain.ContentRecord{}, fmt.Errorf("record %s not found", id)
	}

	record.ID = id
	record.CanonicalURL = existing.CanonicalURL
	record.CreatedAt = existing.CreatedAt
	s.records[id] = record
	return record, nil
}

// Delete removes one record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	delete(s.records, id)
	delete(s.byURL, record.CanonicalURL)
	return nil
}

// Count returns how many records match the filter.
func (s *MemoryStore) Count(ctx context.Context, filter ports.Filter) (int, error) {
	filter.Limit = 0
	records, err := s.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// MemoryRegistry serves a fixed source list (config-defined sources or
// test fixtures).
type MemoryRegistry struct {
	mu      sync.Mutex
	sources []domain.Source
}

var _ ports.SourceRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry copies the given sources.
func NewMemoryRegistry(sources []domain.Source) *MemoryRegistry {
	return &MemoryRegistry{sources: append([]domain.Source(nil), sources...)}
}

// ListActive returns the enabled sources, most urgent first.
func (r *MemoryRegistry) ListActive(_ context.Context) ([]domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]domain.Source, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsActive {
			active = append(active, source)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
	return active, nil
}

// SetSources replaces the source list (admin mutations in tests).
func (r *MemoryRegistry) SetSources(sources []domain.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append([]domain.Source(nil), sources...)
}

// MemorySettings is an in-process settings store. Mutations notify
// watchers through a coalescing single-slot channel.
type MemorySettings struct {
	mu          sync.Mutex
	policy      domain.RetentionPolicy
	denylist    []string
	autoApprove bool
	changes     chan struct{}
}

var _ ports.SettingsStore = (*MemorySettings)(nil)

// NewMemorySettings seeds the store with the initial settings.
func NewMemorySettings(policy domain.RetentionPolicy, denylist []string, autoApprove bool) *MemorySettings {
	return &MemorySettings{
		policy:      policy,
		denylist:    append([]string(nil), denylist...),
		autoApprove: autoApprove,
		changes:     make(chan struct{}, 1),
	}
}

// RetentionPolicy returns the current policy.
func (s *MemorySettings) RetentionPolicy(_ context.Context) (domain.RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, nil
}

// ModerationDenylist returns the current denylist.
func (s *MemorySettings) ModerationDenylist(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.denylist...), nil
}

// AutoApprove reports whether new records are stored approved.
func (s *MemorySettings) AutoApprove(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoApprove, nil
}

// Watch returns the change-notification channel.
func (s *MemorySettings) Watch() <-chan struct{} {
	return s.changes
}

// SetRetentionPolicy replaces the policy and notifies watchers.
func (s *MemorySettings) SetRetentionPolicy(policy domain.RetentionPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
	s.notify()
}

// SetDenylist replaces the denylist and notifies watchers.
func (s *MemorySettings) SetDenylist(denylist []string) {
	s.mu.Lock()
	s.denylist = append([]string(nil), denylist...)
	s.mu.Unlock()
	s.notify()
}

func (s *MemorySettings) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
