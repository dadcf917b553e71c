package models

import (
	"time"
)

// StatusCount is one cell of the priority × status breakdown.
type StatusCount struct {
	Priority Priority    `json:"source_priority"`
	Status   EventStatus `json:"status"`
	Count    int64       `json:"count"`
}

// BatchResult summarises a best-effort batch over many events.
type BatchResult struct {
	Scanned   int           `json:"scanned"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Pages     int           `json:"pages"`
	Completed bool          `json:"completed"` // false when cancelled or aborted between pages
	Duration  time.Duration `json:"duration_ns"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// CleanupResult is the summary returned by the daily cleanup sweep.
type CleanupResult struct {
	BatchResult
	DeletedAt  time.Time        `json:"deleted_at"`
	BySource   map[string]int   `json:"by_source"`
	ByPriority map[Priority]int `json:"by_priority"`
}

// RetentionStats is the read-only retention overview.
type RetentionStats struct {
	Total            int64                              `json:"total"`
	ByPriority       map[Priority]map[EventStatus]int64 `json:"by_priority"`
	ByStatus         map[EventStatus]int64              `json:"by_status"`
	MissingRetention int64                              `json:"missing_delete_after"`
	PendingCleanup   int64                              `json:"pending_cleanup"`
	RetentionDays    map[Priority]int                   `json:"retention_days"`
	GeneratedAt      time.Time                          `json:"generated_at"`
}

// PriorityUnassigned buckets events that have no source_priority yet.
const PriorityUnassigned Priority = "unassigned"

// NewRetentionStats groups priority × status counts into a RetentionStats.
// Callers fill in the remaining fields.
func NewRetentionStats(counts []StatusCount, at time.Time) RetentionStats {
	stats := RetentionStats{
		ByPriority:  make(map[Priority]map[EventStatus]int64),
		ByStatus:    make(map[EventStatus]int64),
		GeneratedAt: at,
	}
	for _, c := range counts {
		priority := c.Priority
		if priority == "" {
			priority = PriorityUnassigned
		}
		if stats.ByPriority[priority] == nil {
			stats.ByPriority[priority] = make(map[EventStatus]int64)
		}
		stats.ByPriority[priority][c.Status] += c.Count
		stats.ByStatus[c.Status] += c.Count
		stats.Total += c.Count
	}
	return stats
}

// Footprint is the raw storage usage reported by a store.
type Footprint struct {
	Documents  int64 `json:"documents"`
	TotalBytes int64 `json:"total_bytes"`
}

// AvgDocumentBytes returns the mean document size.
func (f Footprint) AvgDocumentBytes() float64 {
	if f.Documents == 0 {
		return 0
	}
	return float64(f.TotalBytes) / float64(f.Documents)
}

// SourceStats is the per-source breakdown.
type SourceStats struct {
	Source     string     `json:"source"`
	Priority   Priority   `json:"source_priority"`
	Total      int64      `json:"total"`
	Active     int64      `json:"active"`
	Expired    int64      `json:"expired"`
	Deleted    int64      `json:"deleted"`
	Overdue    int64      `json:"overdue"` // active with delete_after in the past
	OldestScan *time.Time `json:"oldest_scraped_at,omitempty"`
	NewestScan *time.Time `json:"newest_scraped_at,omitempty"`
}

// CleanupCounts is the raw input to efficiency reporting.
type CleanupCounts struct {
	Cleaned       int64   `json:"cleaned"`
	Overdue       int64   `json:"overdue"`
	AvgLagSeconds float64 `json:"avg_lag_seconds"`
	MaxLagSeconds float64 `json:"max_lag_seconds"`
}
