// Package app wires the event store, lifecycle services and HTTP routes from
// a loaded configuration. Both binaries share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/api"
	"github.com/dxbevents/eventkeeper/internal/auth"
	"github.com/dxbevents/eventkeeper/internal/cloudsql"
	"github.com/dxbevents/eventkeeper/internal/config"
	"github.com/dxbevents/eventkeeper/internal/database"
	"github.com/dxbevents/eventkeeper/internal/dedup"
	"github.com/dxbevents/eventkeeper/internal/health"
	"github.com/dxbevents/eventkeeper/internal/ingestion"
	"github.com/dxbevents/eventkeeper/internal/metrics"
	"github.com/dxbevents/eventkeeper/internal/policy"
	"github.com/dxbevents/eventkeeper/internal/retention"
	"github.com/dxbevents/eventkeeper/internal/scheduler"
	"github.com/dxbevents/eventkeeper/internal/server"
)

// Store is everything the lifecycle services need from the event store.
type Store interface {
	dedup.Store
	retention.Store
	health.Store
	health.ReportStore
	ingestion.EventStore
}

// ActivityStore persists, lists and prunes activity entries.
type ActivityStore interface {
	activity.Logger
	api.ActivityLister
	scheduler.ActivityPruner
}

// App holds the wired services.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *sql.DB // nil on the in-memory store
	Store     Store
	Activity  ActivityStore
	Policy    *policy.Table
	HTTP      *metrics.HTTPCollector
	Lifecycle *metrics.LifecycleCollector
	Dedup     *dedup.Deduplicator
	Retention *retention.Manager
	Health    *health.Monitor
	Pipeline  *ingestion.Pipeline
	Scheduler *scheduler.Scheduler
}

// Build connects the store and constructs every service. With no database
// configured it falls back to the in-memory store.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	table := policy.Default()
	if cfg.Retention.PolicyFile != "" {
		loaded, err := policy.LoadFile(cfg.Retention.PolicyFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load retention policy: %w", err)
		}
		table = loaded
		logger.Info("retention policy loaded", "file", cfg.Retention.PolicyFile, "tiers", len(table.Tiers()))
	}
	a.Policy = table

	httpCollector, err := metrics.NewHTTPCollector(nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}
	lifecycle, err := metrics.NewLifecycleCollector(httpCollector.Registry())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register lifecycle metrics: %w", err)
	}
	a.HTTP = httpCollector
	a.Lifecycle = lifecycle
	if a.DB != nil {
		if err := httpCollector.WatchDB(a.DB); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register pool metrics: %w", err)
		}
	}

	recorder := activity.NewRecorder(a.Activity, logger)

	dedupCfg := dedup.DefaultConfig()
	dedupCfg.Threshold = cfg.Dedup.Threshold
	dedupCfg.CandidateWindow = time.Duration(cfg.Dedup.WindowDays) * 24 * time.Hour
	dedupCfg.MaxCandidates = cfg.Dedup.MaxCandidates
	a.Dedup = dedup.New(a.Store, dedupCfg, logger)

	a.Retention = retention.NewManager(a.Store, table, retention.Config{
		PageSize:    cfg.Retention.PageSize,
		SettleDelay: cfg.Retention.SettleDelay,
	}, logger).WithMetrics(lifecycle).WithActivity(recorder)

	healthCfg := health.DefaultConfig()
	healthCfg.Thresholds = health.Thresholds{
		MaxActiveEvents:        cfg.Health.MaxActiveEvents,
		CriticalActiveEvents:   cfg.Health.CriticalActiveEvents,
		MaxMissingRetentionPct: cfg.Health.MaxMissingRetentionPct,
		MaxOverdueEvents:       cfg.Health.MaxOverdueEvents,
	}
	healthCfg.CostPerGBMonth = cfg.Health.CostPerGBMonth
	a.Health = health.NewMonitor(a.Store, a.Store, healthCfg, logger).
		WithMetrics(lifecycle).
		WithActivity(recorder)

	a.Pipeline = ingestion.NewPipeline(a.Store, a.Dedup, a.Retention, logger, ingestion.DefaultPipelineConfig()).
		WithMetrics(lifecycle).
		WithActivity(recorder)

	a.Scheduler = scheduler.New(a.Retention, a.Health, scheduler.Config{
		Assign:            cfg.Schedule.Assign,
		Cleanup:           cfg.Schedule.Cleanup,
		Report:            cfg.Schedule.Report,
		JobTimeout:        cfg.Schedule.JobTimeout,
		ActivityRetention: cfg.Schedule.ActivityRetention,
	}, logger).WithActivityPruner(a.Activity)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	dbURL, err := cloudsql.BuildDatabaseURL(a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}

	if dbURL == "" {
		a.Logger.Warn("no database configured, using in-memory event store")
		a.Store = database.NewMemoryEventRepository()
		a.Activity = database.NewMemoryActivityLog()
		return nil
	}

	a.Logger.Info("database configuration", "config", cloudsql.ConnectionSummary(a.Config.Database))

	db, err := database.Connect(ctx, database.ConfigFrom(a.Config.Database, dbURL))
	if err != nil {
		return err
	}

	if err := database.RunMigrations(ctx, db, database.Migrations(), a.Logger); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.Logger.Info("database connected")

	a.DB = db
	a.Store = &postgresStore{
		PostgresEventRepository:  database.NewPostgresEventRepository(db),
		PostgresReportRepository: database.NewPostgresReportRepository(db),
	}
	a.Activity = database.NewActivityLogRepository(db)
	return nil
}

// StoreType names the backing store for /healthz.
func (a *App) StoreType() string {
	if a.DB == nil {
		return "memory"
	}
	return "postgres"
}

// Handler builds the instrumented HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	var check server.Check
	if a.DB != nil {
		check = func(ctx context.Context) error { return database.HealthCheck(ctx, a.DB) }
	}
	mux.Handle("/healthz", server.HealthHandler(check, a.StoreType(), a.Logger))
	mux.Handle("/metrics", a.HTTP.Handler())

	api.SetupRoutes(mux, api.Dependencies{
		Ingester:  a.Pipeline,
		Dedup:     a.Dedup,
		Retention: a.Retention,
		Health:    a.Health,
		Activity:  a.Activity,
		Schedule:  a.Scheduler,
		Auth:      auth.FromConfig(a.Config.Auth),
		Logger:    a.Logger,
	})

	return a.HTTP.InstrumentHandler(mux)
}

// Close releases the database pool.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close database", "error", err)
		}
	}
}

// postgresStore joins the event and report repositories behind one Store.
type postgresStore struct {
	*database.PostgresEventRepository
	*database.PostgresReportRepository
}
