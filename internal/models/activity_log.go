package models

import "time"

// ActivityType identifies which lifecycle operation produced a log entry.
type ActivityType string

const (
	ActivityTypeIngest          ActivityType = "ingest"
	ActivityTypeAssignRetention ActivityType = "assign_retention"
	ActivityTypeCleanup         ActivityType = "cleanup"
	ActivityTypeExpire          ActivityType = "expire"
	ActivityTypeHealthReport    ActivityType = "health_report"
)

// AllActivityTypes lists every activity type.
func AllActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityTypeIngest,
		ActivityTypeAssignRetention,
		ActivityTypeCleanup,
		ActivityTypeExpire,
		ActivityTypeHealthReport,
	}
}

// ActivityLog is an audit record of one lifecycle run.
type ActivityLog struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	ActivityType ActivityType           `json:"activity_type"`
	Trigger      string                 `json:"trigger,omitempty"` // "schedule", "api"
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	EventCount   *int                   `json:"event_count,omitempty"`
	DurationMs   *int                   `json:"duration_ms,omitempty"`
}
