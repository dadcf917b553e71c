package database

import (
	"context"
	"time"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// EventStore is the full set of operations the service needs from the events
// collection. Consumers depend on narrower interfaces of their own; this one
// exists so both implementations are checked against the same contract.
type EventStore interface {
	Create(ctx context.Context, event models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Event, error)
	MergeFields(ctx context.Context, id string, patch models.MergePatch) (bool, error)

	SetRetention(ctx context.Context, id string, deleteAfter time.Time, priority models.Priority, force bool) (bool, error)
	ListMissingRetention(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	ListExpired(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	ListEnded(ctx context.Context, q models.PageQuery) ([]models.Event, error)
	SoftDelete(ctx context.Context, ids []string, now time.Time) ([]models.EventRef, error)
	MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error)

	CountByPriorityStatus(ctx context.Context) ([]models.StatusCount, error)
	CountMissingRetention(ctx context.Context) (int64, error)
	CountOverdue(ctx context.Context, now time.Time) (int64, error)
	SourceBreakdown(ctx context.Context, now time.Time) ([]models.SourceStats, error)
	Footprint(ctx context.Context) (models.Footprint, error)
	CleanupCounts(ctx context.Context, now time.Time) (models.CleanupCounts, error)
}

// ReportStore persists health snapshots, append-only.
type ReportStore interface {
	SaveReport(ctx context.Context, report models.WeeklyReport) error
	ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error)
}

var (
	_ EventStore  = (*MemoryEventRepository)(nil)
	_ ReportStore = (*MemoryEventRepository)(nil)
	_ EventStore  = (*PostgresEventRepository)(nil)
	_ ReportStore = (*PostgresReportRepository)(nil)
)
