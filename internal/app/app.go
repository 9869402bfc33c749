// Package app wires configuration to the ingestion engine and its
// collaborators.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"contentpulse/internal/adapter"
	"contentpulse/internal/config"
	"contentpulse/internal/domain"
	"contentpulse/internal/engine"
	"contentpulse/internal/infrastructure/storage"
	"contentpulse/internal/infrastructure/telegram"
	"contentpulse/internal/ingest"
	"contentpulse/internal/logging"
	"contentpulse/internal/ports"
	"contentpulse/internal/retention"
)

// Application owns the engine lifecycle and the manual-trigger surface.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	pgStore  *storage.PostgresStore
	engine   *engine.Engine
	watcher  *engine.Watcher
	settings *storage.MemorySettings
}

// New builds a runnable application. An empty database DSN selects the
// in-memory store (dry runs); sources come from config when configured,
// from the sources table otherwise.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	var store ports.ContentStore
	var registry ports.SourceRegistry

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.pgStore = storage.NewPostgresStore(db)
		store = a.pgStore
		registry = storage.NewPostgresRegistry(db)
	} else {
		baseLogger.Warn("no database DSN configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	if len(cfg.Sources) > 0 {
		sources := make([]domain.Source, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			sources = append(sources, src.Source())
		}
		registry = storage.NewMemoryRegistry(sources)
	}
	if registry == nil {
		return nil, fmt.Errorf("no sources configured and no database to read them from")
	}

	a.settings = storage.NewMemorySettings(
		cfg.Retention.Policy(),
		cfg.Moderation.Denylist,
		cfg.Moderation.AutoApproveEnabled(),
	)

	adapters := adapter.NewRegistry()
	adapters.Register(adapter.NewRSSAdapter(nil, baseLogger.With("component", "adapter.rss")))
	adapters.Register(adapter.NewSearchAPIAdapter(nil, baseLogger.With("component", "adapter.search")))
	adapters.Register(adapter.NewGenericAPIAdapter(nil, baseLogger.With("component", "adapter.generic")))

	guard := ingest.NewGuard(
		time.Duration(cfg.Quota.BaseDelayMinutes)*time.Minute,
		time.Duration(cfg.Quota.MaxDelayMinutes)*time.Minute,
		cfg.Scheduler.Location(),
		baseLogger.With("component", "quota"),
	)

	job := ingest.NewJob(ingest.JobDeps{
		Store:    store,
		Settings: a.settings,
		Adapters: adapters,
		Guard:    guard,
		Logger:   baseLogger.With("component", "ingest"),
	})

	manager := retention.NewManager(store, baseLogger.With("component", "retention"))

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	a.engine = engine.New(engine.Deps{
		Registry:  registry,
		Settings:  a.settings,
		Job:       job,
		Retention: manager,
		Notifier:  notifier,
		Logger:    baseLogger.With("component", "engine"),
		Scheduler: cfg.Scheduler,
	})
	a.watcher = engine.NewWatcher(a.settings, manager, a.engine, baseLogger.With("component", "watcher"))

	return a, nil
}

// Run starts the engine and the settings watcher and blocks until ctx is
// cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.ensureSchema(ctx); err != nil {
		return err
	}

	go a.watcher.Start(ctx)
	return a.engine.Start(ctx)
}

// IngestOnce runs one immediate ingestion pass across all active sources.
func (a *Application) IngestOnce(ctx context.Context) ([]domain.RunSummary, error) {
	if err := a.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return a.engine.RunIngestionOnce(ctx)
}

// ReconcileOnce runs one retention reconciliation with the current policy.
func (a *Application) ReconcileOnce(ctx context.Context) (domain.ReconcileResult, error) {
	if err := a.ensureSchema(ctx); err != nil {
		return domain.ReconcileResult{}, err
	}
	return a.engine.RunRetentionNow(ctx)
}

// Settings exposes the in-process settings store so an embedding surface
// can push mutations (which the watcher reacts to).
func (a *Application) Settings() *storage.MemorySettings {
	return a.settings
}

// Close releases the database handle.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Application) ensureSchema(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	if err := a.pgStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
