package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// PostgresReportRepository stores weekly health reports as JSONB snapshots.
type PostgresReportRepository struct {
	db *sql.DB
}

// NewPostgresReportRepository creates a new PostgreSQL report repository.
func NewPostgresReportRepository(db *sql.DB) *PostgresReportRepository {
	return &PostgresReportRepository{db: db}
}

// SaveReport appends a report snapshot.
func (r *PostgresReportRepository) SaveReport(ctx context.Context, report models.WeeklyReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO storage_health_reports (id, generated_at, status, report)
		VALUES ($1, $2, $3, $4)`,
		report.ID, report.GeneratedAt, string(report.Health.Status), payload)
	if err != nil {
		return wrapErr("database.save_report", fmt.Errorf("failed to insert report: %w", err))
	}
	return nil
}

// ListReports returns the newest reports first.
func (r *PostgresReportRepository) ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT report FROM storage_health_reports
		ORDER BY generated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr("database.list_reports", fmt.Errorf("failed to query reports: %w", err))
	}
	defer rows.Close()

	var reports []models.WeeklyReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapErr("database.list_reports", err)
		}
		var report models.WeeklyReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("database.list_reports", err)
	}
	return reports, nil
}
