// Package health reports on the size, cost and cleanup drift of the events
// collection. It never mutates events.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// Store is the read-only subset of the event store the monitor needs.
type Store interface {
	CountByPriorityStatus(ctx context.Context) ([]models.StatusCount, error)
	CountMissingRetention(ctx context.Context) (int64, error)
	CountOverdue(ctx context.Context, now time.Time) (int64, error)
	SourceBreakdown(ctx context.Context, now time.Time) ([]models.SourceStats, error)
	Footprint(ctx context.Context) (models.Footprint, error)
	CleanupCounts(ctx context.Context, now time.Time) (models.CleanupCounts, error)
}

// ReportStore persists weekly report snapshots.
type ReportStore interface {
	SaveReport(ctx context.Context, report models.WeeklyReport) error
	ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error)
}

// Metrics receives storage gauges.
type Metrics interface {
	StorageObserved(active, estimatedBytes int64, level models.HealthLevel)
}

// Thresholds drive health alerts.
type Thresholds struct {
	MaxActiveEvents        int64   // degraded above this
	CriticalActiveEvents   int64   // critical above this
	MaxMissingRetentionPct float64 // percent of active events without delete_after
	MaxOverdueEvents       int64   // active or expired events past delete_after
}

// DefaultThresholds returns sensible defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxActiveEvents:        50000,
		CriticalActiveEvents:   100000,
		MaxMissingRetentionPct: 5,
		MaxOverdueEvents:       100,
	}
}

// Config holds monitor settings.
type Config struct {
	Thresholds     Thresholds
	CostPerGBMonth float64
	Currency       string
	ReportPeriod   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:     DefaultThresholds(),
		CostPerGBMonth: 0.25,
		Currency:       "USD",
		ReportPeriod:   7 * 24 * time.Hour,
	}
}

const bytesPerGB = 1 << 30

// Monitor computes storage health views.
type Monitor struct {
	store    Store
	reports  ReportStore
	config   Config
	logger   *slog.Logger
	metrics  Metrics
	activity *activity.Recorder
	now      func() time.Time
}

// NewMonitor creates a monitor. reports may be nil, in which case weekly
// reports are never persisted.
func NewMonitor(store Store, reports ReportStore, config Config, logger *slog.Logger) *Monitor {
	if config.Currency == "" {
		config.Currency = DefaultConfig().Currency
	}
	if config.ReportPeriod <= 0 {
		config.ReportPeriod = DefaultConfig().ReportPeriod
	}
	return &Monitor{
		store:   store,
		reports: reports,
		config:  config,
		logger:  logger.With("component", "health"),
		now:     time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (m *Monitor) WithMetrics(metrics Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// WithActivity attaches an activity recorder.
func (m *Monitor) WithActivity(recorder *activity.Recorder) *Monitor {
	m.activity = recorder
	return m
}

// CheckStorageHealth counts events and raises threshold alerts.
func (m *Monitor) CheckStorageHealth(ctx context.Context) (models.HealthStatus, error) {
	status, _, err := m.checkStorageHealth(ctx)
	return status, err
}

// checkStorageHealth also returns the priority × status counts it read so a
// report can reuse them.
func (m *Monitor) checkStorageHealth(ctx context.Context) (models.HealthStatus, []models.StatusCount, error) {
	now := m.now()
	status := models.HealthStatus{
		Status:    models.HealthHealthy,
		Alerts:    []models.Alert{},
		CheckedAt: now,
	}

	counts, err := m.store.CountByPriorityStatus(ctx)
	if err != nil {
		return status, nil, fmt.Errorf("failed to count events: %w", err)
	}
	for _, c := range counts {
		status.TotalEvents += c.Count
		if c.Status == models.EventStatusActive {
			status.ActiveEvents += c.Count
		}
	}

	if status.MissingRetention, err = m.store.CountMissingRetention(ctx); err != nil {
		return status, nil, fmt.Errorf("failed to count events missing retention: %w", err)
	}
	if status.OverdueEvents, err = m.store.CountOverdue(ctx, now); err != nil {
		return status, nil, fmt.Errorf("failed to count overdue events: %w", err)
	}
	if status.ActiveEvents > 0 {
		status.MissingPct = float64(status.MissingRetention) / float64(status.ActiveEvents) * 100
	}

	t := m.config.Thresholds
	switch {
	case t.CriticalActiveEvents > 0 && status.ActiveEvents > t.CriticalActiveEvents:
		raise(&status, models.HealthCritical, "active_events_critical",
			fmt.Sprintf("%d active events exceeds the critical limit", status.ActiveEvents),
			float64(status.ActiveEvents), float64(t.CriticalActiveEvents))
	case t.MaxActiveEvents > 0 && status.ActiveEvents > t.MaxActiveEvents:
		raise(&status, models.HealthDegraded, "active_events_high",
			fmt.Sprintf("%d active events exceeds the warning limit", status.ActiveEvents),
			float64(status.ActiveEvents), float64(t.MaxActiveEvents))
	}
	if t.MaxMissingRetentionPct > 0 && status.MissingPct > t.MaxMissingRetentionPct {
		raise(&status, models.HealthDegraded, "missing_delete_after",
			fmt.Sprintf("%.1f%% of active events have no delete_after", status.MissingPct),
			status.MissingPct, t.MaxMissingRetentionPct)
	}
	if t.MaxOverdueEvents > 0 && status.OverdueEvents > t.MaxOverdueEvents {
		raise(&status, models.HealthDegraded, "cleanup_overdue",
			fmt.Sprintf("%d events are past delete_after and not yet cleaned", status.OverdueEvents),
			float64(status.OverdueEvents), float64(t.MaxOverdueEvents))
	}

	if status.Status != models.HealthHealthy {
		m.logger.Warn("storage health degraded",
			"status", status.Status,
			"alerts", len(status.Alerts),
			"active_events", status.ActiveEvents,
			"overdue_events", status.OverdueEvents)
	}
	return status, counts, nil
}

// raise appends an alert and escalates the overall status when the alert is
// worse than what was seen so far.
func raise(status *models.HealthStatus, level models.HealthLevel, code, message string, value, threshold float64) {
	status.Alerts = append(status.Alerts, models.Alert{
		Level:     level,
		Code:      code,
		Message:   message,
		Value:     value,
		Threshold: threshold,
	})
	if level.Severity() > status.Status.Severity() {
		status.Status = level
	}
}

// CalculateStorageCostEstimate derives footprint and monthly cost from the
// average document size. It is an estimate, not a billing figure.
func (m *Monitor) CalculateStorageCostEstimate(ctx context.Context) (models.CostEstimate, error) {
	fp, err := m.store.Footprint(ctx)
	if err != nil {
		return models.CostEstimate{}, fmt.Errorf("failed to measure storage footprint: %w", err)
	}

	avg := fp.AvgDocumentBytes()
	estimated := int64(avg * float64(fp.Documents))
	gb := float64(estimated) / bytesPerGB

	return models.CostEstimate{
		Documents:        fp.Documents,
		AvgDocumentBytes: avg,
		EstimatedBytes:   estimated,
		EstimatedGB:      gb,
		CostPerGBMonth:   m.config.CostPerGBMonth,
		MonthlyCost:      gb * m.config.CostPerGBMonth,
		Currency:         m.config.Currency,
		Note:             "estimate from average document size; excludes indexes and replication",
		CalculatedAt:     m.now(),
	}, nil
}

// GetDetailedSourceStats returns the per-source breakdown.
func (m *Monitor) GetDetailedSourceStats(ctx context.Context) ([]models.SourceStats, error) {
	stats, err := m.store.SourceBreakdown(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sources: %w", err)
	}
	return stats, nil
}

// GetCleanupEfficiencyStats compares events cleaned on time with those
// still waiting past their window.
func (m *Monitor) GetCleanupEfficiencyStats(ctx context.Context) (models.CleanupEfficiency, error) {
	now := m.now()
	counts, err := m.store.CleanupCounts(ctx, now)
	if err != nil {
		return models.CleanupEfficiency{}, fmt.Errorf("failed to count cleanup results: %w", err)
	}

	eff := models.CleanupEfficiency{
		CleanupCounts: counts,
		Efficiency:    1,
		CalculatedAt:  now,
	}
	if total := counts.Cleaned + counts.Overdue; total > 0 {
		eff.Efficiency = float64(counts.Cleaned) / float64(total)
	}

	sources, err := m.store.SourceBreakdown(ctx, now)
	if err != nil {
		return eff, fmt.Errorf("failed to aggregate sources: %w", err)
	}
	for _, s := range sources {
		if s.Overdue > 0 {
			eff.PerSource = append(eff.PerSource, s)
		}
	}
	return eff, nil
}

// GenerateWeeklyReport composes every health view into one snapshot and, when
// persist is set, appends it to the report store.
func (m *Monitor) GenerateWeeklyReport(ctx context.Context, persist bool) (models.WeeklyReport, error) {
	started := m.now()
	report := models.WeeklyReport{
		ID:          uuid.New().String(),
		GeneratedAt: started,
		PeriodStart: started.Add(-m.config.ReportPeriod),
		PeriodEnd:   started,
	}

	health, counts, err := m.checkStorageHealth(ctx)
	if err != nil {
		return report, err
	}
	report.Health = health
	if report.Cost, err = m.CalculateStorageCostEstimate(ctx); err != nil {
		return report, err
	}
	if report.Sources, err = m.GetDetailedSourceStats(ctx); err != nil {
		return report, err
	}
	if report.Cleanup, err = m.GetCleanupEfficiencyStats(ctx); err != nil {
		return report, err
	}
	report.Retention = retentionSummary(counts, report.Health)
	report.Recommendations = recommend(report)

	if m.metrics != nil {
		m.metrics.StorageObserved(report.Health.ActiveEvents, report.Cost.EstimatedBytes, report.Health.Status)
	}

	if persist && m.reports != nil {
		if err := m.reports.SaveReport(ctx, report); err != nil {
			return report, fmt.Errorf("failed to save weekly report: %w", err)
		}
	}

	m.logger.Info("weekly storage report generated",
		"report_id", report.ID,
		"status", report.Health.Status,
		"active_events", report.Health.ActiveEvents,
		"estimated_gb", report.Cost.EstimatedGB,
		"efficiency", report.Cleanup.Efficiency,
		"persisted", persist && m.reports != nil)
	m.activity.Record(ctx, models.ActivityTypeHealthReport,
		fmt.Sprintf("Weekly report %s: %s", report.ID, report.Health.Status),
		int(report.Health.TotalEvents), m.now().Sub(started), map[string]interface{}{
			"report_id":       report.ID,
			"status":          report.Health.Status,
			"recommendations": len(report.Recommendations),
			"persisted":       persist && m.reports != nil,
		})

	return report, nil
}

// ListReports returns persisted reports, newest first.
func (m *Monitor) ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error) {
	if m.reports == nil {
		return []models.WeeklyReport{}, nil
	}
	reports, err := m.reports.ListReports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// retentionSummary builds the report's retention view from the counts the
// health check already read.
func retentionSummary(counts []models.StatusCount, health models.HealthStatus) models.RetentionStats {
	stats := models.NewRetentionStats(counts, health.CheckedAt)
	stats.MissingRetention = health.MissingRetention
	stats.PendingCleanup = health.OverdueEvents
	return stats
}

func recommend(report models.WeeklyReport) []string {
	var out []string
	h := report.Health

	if h.MissingRetention > 0 {
		out = append(out, fmt.Sprintf("Run retention assignment: %d active events have no delete_after.", h.MissingRetention))
	}
	if h.OverdueEvents > 0 {
		out = append(out, fmt.Sprintf("Run cleanup: %d events are past delete_after.", h.OverdueEvents))
	}
	if report.Cleanup.Efficiency < 0.9 {
		out = append(out, fmt.Sprintf("Cleanup efficiency is %.0f%%; schedule the sweep more often.", report.Cleanup.Efficiency*100))
	}
	if h.ActiveEvents > 0 {
		for _, s := range report.Sources {
			share := float64(s.Active) / float64(h.ActiveEvents)
			if share > 0.5 && s.Priority == models.PriorityLow {
				out = append(out, fmt.Sprintf("Low-priority source %s holds %.0f%% of active events.", s.Source, share*100))
			}
		}
	}
	return out
}
