// Package storage provides the Postgres-backed and in-memory
// implementations of the store interfaces.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"contentpulse/internal/domain"
	"contentpulse/internal/ports"
)

const uniqueViolation = "23505"

var recordColumns = []string{
	"id", "title", "canonical_url", "normalized_title", "body_summary",
	"media_url", "author_name", "published_at", "created_at", "source_id",
	"is_pinned", "is_featured", "moderation_status",
}

// PostgresStore persists content records in Postgres. The canonical-URL
// uniqueness invariant is enforced by the database, which is what resolves
// two concurrent jobs deciding the same URL is new.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ContentStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS content_records (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			canonical_url TEXT NOT NULL UNIQUE,
			normalized_title TEXT NOT NULL,
			body_summary TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			source_id TEXT NOT NULL,
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			moderation_status TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS content_records_created_at_idx
			ON content_records (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS content_records_normalized_title_idx
			ON content_records (normalized_title)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 100,
			fetch_interval_minutes INTEGER NOT NULL DEFAULT 30,
			daily_quota INTEGER NOT NULL DEFAULT 0,
			per_minute_quota INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Find returns records matching the filter, newest first.
func (s *PostgresStore) Find(ctx context.Context, filter ports.Filter) ([]domain.ContentRecord, error) {
	builder := s.sb.Select(recordColumns...).
		From("content_records").
		OrderBy("created_at DESC")

	if filter.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.CanonicalURL != "" {
		builder = builder.Where(sq.Eq{"canonical_url": filter.CanonicalURL})
	}
	if !filter.CreatedAfter.IsZero() {
		builder = builder.Where(sq.Gt{"created_at": filter.CreatedAfter})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []domain.ContentRecord
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return records, nil
}

// Create inserts one record. A canonical-URL collision maps to
// ports.ErrDuplicate so the caller can treat the record as a benign
// duplicate.
func (s *PostgresStore) Create(ctx context.Context, record domain.ContentRecord) (domain.ContentRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query, args, err := s.sb.Insert("content_records").
		Columns(recordColumns...).
		Values(
			record.ID, record.Title, record.CanonicalURL, record.NormalizedTitle,
			record.BodySummary, record.MediaURL, record.AuthorName,
			record.PublishedAt, record.CreatedAt, record.SourceID,
			record.IsPinned, record.IsFeatured, string(record.ModerationStatus),
		).
		ToSql()
	if err != nil {
		return domain.ContentRecord{}, fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return domain.ContentRecord{}, fmt.Errorf("url %s: %w", record.CanonicalURL, ports.ErrDuplicate)
		}
		return domain.ContentRecord{}, fmt.Errorf("insert record: %w", err)
	}

	return record, nil
}

// Update overwrites the mutable fields of one record.
func (s *PostgresStore) Update(ctx context.Context, id string, record domain.ContentRecord) (domain.ContentRecord, error) {
	query, args, err := s.sb.Update("content_records").
		Set("title", record.Title).
		Set("normalized_title", record.NormalizedTitle).
		Set("body_summary", record.BodySummary).
		Set("media_url", record.MediaURL).
		Set("author_name", record.AuthorName).
		Set("is_pinned", record.IsPinned).
		Set("is_featured", record.IsFeatured).
		Set("moderation_status", string(record.ModerationStatus)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.ContentRecord{}, fmt.Errorf("build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.ContentRecord{}, fmt.Errorf("update record: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ContentRecord{}, fmt.Errorf("record %s not found", id)
	}

	record.ID = id
	return record, nil
}

// Delete removes one record.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete("content_records").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Count returns how many records match the filter.
func (s *PostgresStore) Count(ctx context.Context, filter ports.Filter) (int, error) {
	builder := s.sb.Select("COUNT(*)").From("content_records")

	if filter.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if !filter.CreatedAfter.IsZero() {
		builder = builder.Where(sq.Gt{"created_at": filter.CreatedAfter})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func scanRecord(rows *sql.Rows) (domain.ContentRecord, error) {
	var (
		record domain.ContentRecord
		status string
	)
	err := rows.Scan(
		&record.ID, &record.Title, &record.CanonicalURL, &record.NormalizedTitle,
		&record.BodySummary, &record.MediaURL, &record.AuthorName,
		&record.PublishedAt, &record.CreatedAt, &record.SourceID,
		&record.IsPinned, &record.IsFeatured, &status,
	)
	if err != nil {
		return domain.ContentRecord{}, fmt.Errorf("scan record: %w", err)
	}
	record.ModerationStatus = domain.ModerationStatus(status)
	return record, nil
}

// PostgresRegistry reads the sources table maintained by the external
// admin surface.
type PostgresRegistry struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.SourceRegistry = (*PostgresRegistry)(nil)

// NewPostgresRegistry wires a sql.DB implementation.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// ListActive returns the enabled sources, most urgent first.
func (r *PostgresRegistry) ListActive(ctx context.Context) ([]domain.Source, error) {
	query, args, err := r.sb.Select(
		"id", "name", "kind", "endpoint", "keywords", "is_active",
		"priority", "fetch_interval_minutes", "daily_quota", "per_minute_quota",
	).
		From("sources").
		Where(sq.Eq{"is_active": true}).
		OrderBy("priority ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var (
			source domain.Source
			kind   string
		)
		err := rows.Scan(
			&source.ID, &source.Name, &kind, &source.Endpoint,
			pq.Array(&source.Keywords), &source.IsActive, &source.Priority,
			&source.FetchIntervalMinutes, &source.DailyQuota, &source.PerMinuteQuota,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		source.Kind = domain.SourceKind(kind)
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return sources, nil
}
