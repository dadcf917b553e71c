package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// ActivityLogRepository handles activity log storage and retrieval.
type ActivityLogRepository struct {
	db *sql.DB
}

// NewActivityLogRepository creates a new activity log repository.
func NewActivityLogRepository(db *sql.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Log stores a new activity log entry.
func (r *ActivityLogRepository) Log(ctx context.Context, log models.ActivityLog) error {
	log = withLogDefaults(log)

	var detailsJSON []byte
	var err error
	if log.Details != nil {
		detailsJSON, err = json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO activity_logs (id, timestamp, activity_type, trigger, message, details, event_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.ActivityType,
		log.Trigger,
		log.Message,
		detailsJSON,
		log.EventCount,
		log.DurationMs,
	)
	return wrapErr("database.activity_log", err)
}

// List retrieves activity logs, newest first, optionally filtered by type.
func (r *ActivityLogRepository) List(ctx context.Context, limit int, activityType string) ([]models.ActivityLog, error) {
	limit = clampLogLimit(limit)

	query := `
		SELECT id, timestamp, activity_type, COALESCE(trigger, ''), message, details, event_count, duration_ms
		FROM activity_logs
		WHERE ($1::text = '' OR activity_type = $1::text)
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, activityType, limit)
	if err != nil {
		return nil, wrapErr("database.activity_log_list", err)
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var log models.ActivityLog
		var detailsJSON []byte
		var eventCount, durationMs sql.NullInt64

		err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&log.ActivityType,
			&log.Trigger,
			&log.Message,
			&detailsJSON,
			&eventCount,
			&durationMs,
		)
		if err != nil {
			return nil, wrapErr("database.activity_log_list", err)
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		log.EventCount = nullInt(eventCount)
		log.DurationMs = nullInt(durationMs)

		logs = append(logs, log)
	}

	return logs, wrapErr("database.activity_log_list", rows.Err())
}

// DeleteOlderThan removes entries older than age.
func (r *ActivityLogRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM activity_logs WHERE timestamp < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, wrapErr("database.activity_log_prune", err)
	}
	return result.RowsAffected()
}

// MemoryActivityLog is an in-memory activity log for tests and local runs.
type MemoryActivityLog struct {
	mu   sync.Mutex
	logs []models.ActivityLog
}

// NewMemoryActivityLog creates an empty in-memory activity log.
func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{}
}

// Log stores a new activity log entry.
func (m *MemoryActivityLog) Log(ctx context.Context, log models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, withLogDefaults(log))
	return nil
}

// List retrieves activity logs, newest first, optionally filtered by type.
func (m *MemoryActivityLog) List(ctx context.Context, limit int, activityType string) ([]models.ActivityLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logs := []models.ActivityLog{}
	for _, log := range m.logs {
		if activityType == "" || string(log.ActivityType) == activityType {
			logs = append(logs, log)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.After(logs[j].Timestamp) })

	if limit = clampLogLimit(limit); len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// DeleteOlderThan removes entries older than age.
func (m *MemoryActivityLog) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-age)
	kept := m.logs[:0]
	for _, log := range m.logs {
		if !log.Timestamp.Before(cutoff) {
			kept = append(kept, log)
		}
	}
	deleted := int64(len(m.logs) - len(kept))
	m.logs = kept
	return deleted, nil
}

func withLogDefaults(log models.ActivityLog) models.ActivityLog {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	return log
}

func clampLogLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
