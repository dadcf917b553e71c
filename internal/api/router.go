package api

import (
	"log/slog"
	"net/http"

	"github.com/dxbevents/eventkeeper/internal/auth"
)

// Dependencies are the services the HTTP surface is built from.
type Dependencies struct {
	Ingester  Ingester
	Dedup     DuplicateChecker
	Retention RetentionService
	Health    HealthService
	Activity  ActivityLister
	Schedule  ScheduleLister
	Auth      auth.Config
	Logger    *slog.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, deps Dependencies) {
	logger := deps.Logger.With("component", "api")

	handler := NewHandler(deps.Ingester, deps.Dedup, logger)
	lifecycle := NewLifecycleHandler(deps.Retention, deps.Health, deps.Schedule, logger)
	activityHandler := NewActivityLogHandlers(deps.Activity, logger)
	authHandler := NewAuthHandler(deps.Auth, logger)

	authMiddleware := auth.Middleware(deps.Auth)
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)

	// Event routes
	mux.Handle("/api/events/ingest", admin(handler.IngestHandler))
	mux.HandleFunc("/api/events/check-duplicate", handler.CheckDuplicateHandler)

	// Read-only lifecycle routes (public)
	mux.HandleFunc("/api/lifecycle/retention-stats", lifecycle.RetentionStats())
	mux.HandleFunc("/api/lifecycle/storage-health", lifecycle.StorageHealth())
	mux.HandleFunc("/api/lifecycle/storage-cost", lifecycle.StorageCost())
	mux.HandleFunc("/api/lifecycle/source-stats", lifecycle.SourceStats())
	mux.HandleFunc("/api/lifecycle/cleanup-efficiency", lifecycle.CleanupEfficiency())
	mux.HandleFunc("/api/lifecycle/reports", lifecycle.Reports)
	mux.HandleFunc("/api/lifecycle/schedule", lifecycle.Schedule)
	mux.HandleFunc("/api/lifecycle/activity", activityHandler.ListActivities)

	// Lifecycle triggers (admin only)
	mux.Handle("/api/lifecycle/setup-deletion", admin(lifecycle.SetupDeletion()))
	mux.Handle("/api/lifecycle/cleanup", admin(lifecycle.Cleanup()))
	mux.Handle("/api/lifecycle/expire", admin(lifecycle.Expire()))
	mux.Handle("/api/lifecycle/weekly-report", admin(lifecycle.WeeklyReport))
}
