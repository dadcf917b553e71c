package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/scheduler"
)

// RetentionService is the retention manager surface exposed over HTTP.
type RetentionService interface {
	GetRetentionStats(ctx context.Context) (models.RetentionStats, error)
	SetupAutomaticDeletion(ctx context.Context) (models.BatchResult, error)
	DailyCleanup(ctx context.Context) (models.CleanupResult, error)
	ExpirePastEvents(ctx context.Context) (models.BatchResult, error)
}

// HealthService is the storage health monitor surface exposed over HTTP.
type HealthService interface {
	CheckStorageHealth(ctx context.Context) (models.HealthStatus, error)
	CalculateStorageCostEstimate(ctx context.Context) (models.CostEstimate, error)
	GetDetailedSourceStats(ctx context.Context) ([]models.SourceStats, error)
	GetCleanupEfficiencyStats(ctx context.Context) (models.CleanupEfficiency, error)
	GenerateWeeklyReport(ctx context.Context, persist bool) (models.WeeklyReport, error)
	ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error)
}

// ScheduleLister reports the registered cron jobs.
type ScheduleLister interface {
	NextRuns() []scheduler.JobSchedule
}

// LifecycleHandler serves the retention and storage health endpoints.
type LifecycleHandler struct {
	retention RetentionService
	health    HealthService
	schedule  ScheduleLister
	logger    *slog.Logger
}

// NewLifecycleHandler creates the lifecycle handler. schedule may be nil.
func NewLifecycleHandler(retention RetentionService, health HealthService, schedule ScheduleLister, logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		retention: retention,
		health:    health,
		schedule:  schedule,
		logger:    logger,
	}
}

func withAPITrigger(ctx context.Context) context.Context {
	return activity.WithTrigger(ctx, activity.TriggerAPI)
}

// read wraps a GET endpoint whose body is the value fn returns.
func read[T any](h *LifecycleHandler, fn func(ctx context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		value, err := fn(r.Context())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, value)
	}
}

// trigger wraps a POST endpoint that starts a sweep. Per-item failures come
// back as warnings in a 200; an aborted run returns the error with the
// partial result.
func trigger[T any](h *LifecycleHandler, fn func(ctx context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		result, err := fn(withAPITrigger(r.Context()))
		if err != nil {
			writePartial(w, h.logger, err, result)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, result)
	}
}

// RetentionStats handles GET /api/lifecycle/retention-stats
func (h *LifecycleHandler) RetentionStats() http.HandlerFunc {
	return read(h, h.retention.GetRetentionStats)
}

// SetupDeletion handles POST /api/lifecycle/setup-deletion
func (h *LifecycleHandler) SetupDeletion() http.HandlerFunc {
	return trigger(h, h.retention.SetupAutomaticDeletion)
}

// Cleanup handles POST /api/lifecycle/cleanup
func (h *LifecycleHandler) Cleanup() http.HandlerFunc {
	return trigger(h, h.retention.DailyCleanup)
}

// Expire handles POST /api/lifecycle/expire
func (h *LifecycleHandler) Expire() http.HandlerFunc {
	return trigger(h, h.retention.ExpirePastEvents)
}

// StorageHealth handles GET /api/lifecycle/storage-health
func (h *LifecycleHandler) StorageHealth() http.HandlerFunc {
	return read(h, h.health.CheckStorageHealth)
}

// StorageCost handles GET /api/lifecycle/storage-cost
func (h *LifecycleHandler) StorageCost() http.HandlerFunc {
	return read(h, h.health.CalculateStorageCostEstimate)
}

// SourceStats handles GET /api/lifecycle/source-stats
func (h *LifecycleHandler) SourceStats() http.HandlerFunc {
	return read(h, h.health.GetDetailedSourceStats)
}

// CleanupEfficiency handles GET /api/lifecycle/cleanup-efficiency
func (h *LifecycleHandler) CleanupEfficiency() http.HandlerFunc {
	return read(h, h.health.GetCleanupEfficiencyStats)
}

// WeeklyReport handles POST /api/lifecycle/weekly-report. ?persist=false
// builds the report without saving it.
func (h *LifecycleHandler) WeeklyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	persist := r.URL.Query().Get("persist") != "false"
	report, err := h.health.GenerateWeeklyReport(withAPITrigger(r.Context()), persist)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}

// Reports handles GET /api/lifecycle/reports
func (h *LifecycleHandler) Reports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reports, err := h.health.ListReports(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// Schedule handles GET /api/lifecycle/schedule
func (h *LifecycleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs := []scheduler.JobSchedule{}
	if h.schedule != nil {
		jobs = h.schedule.NextRuns()
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
