// Package retention stamps delete_after on events and runs the cleanup sweeps.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/policy"
)

// Store is the subset of the event store the manager needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	SetRetention(ctx context.Context, id string, deleteAfter time.Time, priority models.Priority, force bool) (bool, error)
	ListMissingRetention(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	ListExpired(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	ListEnded(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	SoftDelete(ctx context.Context, ids []string, now time.Time) ([]models.EventRef, error)
	MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error)
	CountByPriorityStatus(ctx context.Context) ([]models.StatusCount, error)
	CountMissingRetention(ctx context.Context) (int64, error)
	CountOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Metrics receives lifecycle counters.
type Metrics interface {
	RetentionAssigned(priority models.Priority)
	EventsSoftDeleted(priority models.Priority, n int)
	BatchFailure(operation string)
}

// Config holds sweep tuning.
type Config struct {
	PageSize    int           // events per page
	SettleDelay time.Duration // minimum age before a bulk sweep stamps an event
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:    500,
		SettleDelay: 30 * time.Second,
	}
}

// Manager assigns retention windows and runs the cleanup sweep.
type Manager struct {
	store    Store
	policy   *policy.Table
	config   Config
	logger   *slog.Logger
	metrics  Metrics
	activity *activity.Recorder
	now      func() time.Time
}

// NewManager creates a retention manager for the given policy table.
func NewManager(store Store, table *policy.Table, config Config, logger *slog.Logger) *Manager {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	return &Manager{
		store:   store,
		policy:  table,
		config:  config,
		logger:  logger.With("component", "retention"),
		metrics: nopMetrics{},
		now:     time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (m *Manager) WithMetrics(metrics Metrics) *Manager {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// WithActivity attaches an activity recorder.
func (m *Manager) WithActivity(recorder *activity.Recorder) *Manager {
	m.activity = recorder
	return m
}

// Policy returns the policy table in use.
func (m *Manager) Policy() *policy.Table {
	return m.policy
}

// ComputeDeleteAfter returns when event becomes eligible for cleanup and the
// priority of its source. An explicit RetentionDays wins over the tier default.
func ComputeDeleteAfter(event *models.Event, table *policy.Table) (time.Time, models.Priority) {
	tier := table.Lookup(event.Source)
	days := tier.RetentionDays
	if event.RetentionDays != nil && *event.RetentionDays > 0 {
		days = *event.RetentionDays
	}
	return event.RetentionAnchor().AddDate(0, 0, days), tier.Priority
}

// AssignRetention stamps delete_after and source_priority on event. An event
// that already carries delete_after keeps it unless force is set; the
// returned time is the delete_after in effect either way.
func (m *Manager) AssignRetention(ctx context.Context, event *models.Event, force bool) (time.Time, error) {
	if err := event.Validate(); err != nil {
		return time.Time{}, apperr.Validation("retention.assign", err)
	}
	if event.DeleteAfter != nil && !force {
		return *event.DeleteAfter, nil
	}

	deleteAfter, priority := ComputeDeleteAfter(event, m.policy)

	updated, err := m.store.SetRetention(ctx, event.ID, deleteAfter, priority, force)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to assign retention to %s: %w", event.ID, err)
	}
	if !updated {
		// Stamped concurrently by someone else; their value stands.
		return m.storedRetention(ctx, event)
	}

	event.DeleteAfter = &deleteAfter
	event.SourcePriority = priority
	m.metrics.RetentionAssigned(priority)
	return deleteAfter, nil
}

// storedRetention reloads the delete_after another writer committed and
// copies it onto event.
func (m *Manager) storedRetention(ctx context.Context, event *models.Event) (time.Time, error) {
	stored, err := m.store.GetByID(ctx, event.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to reload retention of %s: %w", event.ID, err)
	}
	if stored == nil {
		return time.Time{}, apperr.NotFound("retention.assign", event.ID)
	}
	if stored.DeleteAfter == nil {
		return time.Time{}, fmt.Errorf("event %s reported stamped but has no delete_after", event.ID)
	}
	event.DeleteAfter = stored.DeleteAfter
	event.SourcePriority = stored.SourcePriority
	return *stored.DeleteAfter, nil
}

// SetupAutomaticDeletion stamps every event still missing delete_after. Events
// younger than the settle delay are left for the next run. A malformed event
// is logged and skipped; a store outage or cancellation stops the run between
// pages and the partial result is returned with the error.
func (m *Manager) SetupAutomaticDeletion(ctx context.Context) (models.BatchResult, error) {
	started := m.now()
	result := models.BatchResult{}
	cutoff := started.Add(-m.config.SettleDelay)

	err := m.paginate(ctx, &result, func(after string) ([]models.Event, error) {
		return m.store.ListMissingRetention(ctx, models.PageQuery{AfterID: after, Limit: m.config.PageSize, Before: cutoff})
	}, func(page []models.Event) error {
		for i := range page {
			event := &page[i]
			result.Scanned++

			if _, err := m.AssignRetention(ctx, event, false); err != nil {
				switch apperr.KindOf(err) {
				case apperr.KindStoreUnavailable:
					return err
				case apperr.KindNotFound:
					result.Skipped++
					continue
				}
				result.Failed++
				result.Warnings = append(result.Warnings, fmt.Sprintf("event %s: %v", event.ID, err))
				m.metrics.BatchFailure("assign_retention")
				m.logger.Warn("skipping event during retention assignment",
					"event_id", event.ID,
					"source", event.Source,
					"error", err)
				continue
			}

			if event.DeleteAfter != nil {
				result.Updated++
			} else {
				result.Skipped++
			}
		}
		return nil
	})

	result.Duration = m.now().Sub(started)
	m.logger.Info("retention assignment finished",
		"scanned", result.Scanned,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"completed", result.Completed,
		"duration_ms", result.Duration.Milliseconds())
	m.activity.Record(ctx, models.ActivityTypeAssignRetention,
		fmt.Sprintf("Assigned retention to %d events, %d failed", result.Updated, result.Failed),
		result.Updated, result.Duration, map[string]interface{}{
			"scanned":   result.Scanned,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
			"completed": result.Completed,
		})

	return result, err
}

// DailyCleanup soft-deletes active events whose delete_after has passed. The
// store only transitions rows that are still active and due, so a second run
// finds nothing to do and deleted_at is never rewritten.
func (m *Manager) DailyCleanup(ctx context.Context) (models.CleanupResult, error) {
	started := m.now()
	result := models.CleanupResult{
		DeletedAt:  started,
		BySource:   make(map[string]int),
		ByPriority: make(map[models.Priority]int),
	}

	err := m.paginate(ctx, &result.BatchResult, func(after string) ([]models.Event, error) {
		return m.store.ListExpired(ctx, models.PageQuery{AfterID: after, Limit: m.config.PageSize, Before: started})
	}, func(page []models.Event) error {
		ids := make([]string, len(page))
		for i, event := range page {
			ids[i] = event.ID
		}
		result.Scanned += len(page)

		refs, err := m.store.SoftDelete(ctx, ids, started)
		if err != nil {
			m.metrics.BatchFailure("cleanup")
			return fmt.Errorf("failed to soft delete page: %w", err)
		}

		result.Updated += len(refs)
		result.Skipped += len(page) - len(refs)
		perPriority := make(map[models.Priority]int)
		for _, ref := range refs {
			result.BySource[ref.Source]++
			priority := ref.Priority
			if priority == "" {
				priority = m.policy.Lookup(ref.Source).Priority
			}
			result.ByPriority[priority]++
			perPriority[priority]++
		}
		for priority, n := range perPriority {
			m.metrics.EventsSoftDeleted(priority, n)
		}
		return nil
	})

	result.Duration = m.now().Sub(started)
	m.logger.Info("daily cleanup finished",
		"deleted", result.Updated,
		"skipped", result.Skipped,
		"pages", result.Pages,
		"completed", result.Completed,
		"by_priority", result.ByPriority,
		"duration_ms", result.Duration.Milliseconds())
	m.activity.Record(ctx, models.ActivityTypeCleanup,
		fmt.Sprintf("Soft-deleted %d expired events", result.Updated),
		result.Updated, result.Duration, map[string]interface{}{
			"by_source":   result.BySource,
			"by_priority": result.ByPriority,
			"skipped":     result.Skipped,
			"completed":   result.Completed,
		})

	return result, err
}

// ExpirePastEvents flips active events that have already finished to
// expired. delete_after is left alone, so cleanup timing is unchanged.
func (m *Manager) ExpirePastEvents(ctx context.Context) (models.BatchResult, error) {
	started := m.now()
	result := models.BatchResult{}

	err := m.paginate(ctx, &result, func(after string) ([]models.Event, error) {
		return m.store.ListEnded(ctx, models.PageQuery{AfterID: after, Limit: m.config.PageSize, Before: started})
	}, func(page []models.Event) error {
		ids := make([]string, len(page))
		for i, event := range page {
			ids[i] = event.ID
		}
		result.Scanned += len(page)

		n, err := m.store.MarkExpired(ctx, ids, started)
		if err != nil {
			m.metrics.BatchFailure("expire")
			return fmt.Errorf("failed to mark page expired: %w", err)
		}
		result.Updated += int(n)
		result.Skipped += len(page) - int(n)
		return nil
	})

	result.Duration = m.now().Sub(started)
	m.logger.Info("past events expired",
		"expired", result.Updated,
		"skipped", result.Skipped,
		"completed", result.Completed,
		"duration_ms", result.Duration.Milliseconds())
	m.activity.Record(ctx, models.ActivityTypeExpire,
		fmt.Sprintf("Marked %d finished events expired", result.Updated),
		result.Updated, result.Duration, map[string]interface{}{
			"scanned":   result.Scanned,
			"completed": result.Completed,
		})

	return result, err
}

// paginate walks keyset pages until a short page, checking for cancellation
// between pages. process may return an error to stop the walk.
func (m *Manager) paginate(ctx context.Context, result *models.BatchResult, fetch func(after string) ([]models.Event, error), process func([]models.Event) error) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			result.Warnings = append(result.Warnings, "stopped early: "+err.Error())
			return err
		}

		page, err := fetch(after)
		if err != nil {
			return fmt.Errorf("failed to list page %d: %w", result.Pages+1, err)
		}
		if len(page) == 0 {
			result.Completed = true
			return nil
		}
		result.Pages++

		if err := process(page); err != nil {
			return err
		}

		if len(page) < m.config.PageSize {
			result.Completed = true
			return nil
		}
		after = page[len(page)-1].ID
	}
}

// GetRetentionStats aggregates events by priority and status.
func (m *Manager) GetRetentionStats(ctx context.Context) (models.RetentionStats, error) {
	now := m.now()

	counts, err := m.store.CountByPriorityStatus(ctx)
	if err != nil {
		return models.RetentionStats{GeneratedAt: now}, fmt.Errorf("failed to count events: %w", err)
	}
	stats := models.NewRetentionStats(counts, now)
	stats.RetentionDays = m.policy.RetentionByPriority()

	if stats.MissingRetention, err = m.store.CountMissingRetention(ctx); err != nil {
		return stats, fmt.Errorf("failed to count events missing retention: %w", err)
	}
	if stats.PendingCleanup, err = m.store.CountOverdue(ctx, now); err != nil {
		return stats, fmt.Errorf("failed to count events pending cleanup: %w", err)
	}
	return stats, nil
}

type nopMetrics struct{}

func (nopMetrics) RetentionAssigned(models.Priority)      {}
func (nopMetrics) EventsSoftDeleted(models.Priority, int) {}
func (nopMetrics) BatchFailure(string)                    {}
