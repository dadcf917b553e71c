package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

// PostgresEventRepository implements EventStore using PostgreSQL. Every
// mutation is a single filter-scoped statement, so concurrent sweeps never
// lose updates to each other.
type PostgresEventRepository struct {
	db *sql.DB
}

// NewPostgresEventRepository creates a new PostgreSQL event repository.
func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

const eventColumns = `
	id, source, COALESCE(source_priority, ''), title, COALESCE(description, ''),
	COALESCE(category, ''), COALESCE(venue_name, ''), COALESCE(venue_area, ''),
	COALESCE(image_url, ''), COALESCE(ticket_url, ''), start_date, end_date,
	scraped_at, created_at, updated_at, status, delete_after, deleted_at, retention_days`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.Event, error) {
	var event models.Event
	var venueName, venueArea string
	var startDate, endDate, deleteAfter, deletedAt sql.NullTime
	var retentionDays sql.NullInt64

	err := row.Scan(
		&event.ID,
		&event.Source,
		&event.SourcePriority,
		&event.Title,
		&event.Description,
		&event.Category,
		&venueName,
		&venueArea,
		&event.ImageURL,
		&event.TicketURL,
		&startDate,
		&endDate,
		&event.ScrapedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.Status,
		&deleteAfter,
		&deletedAt,
		&retentionDays,
	)
	if err != nil {
		return event, err
	}

	if venueName != "" || venueArea != "" {
		event.Venue = &models.Venue{Name: venueName, Area: venueArea}
	}
	event.StartDate = nullTime(startDate)
	event.EndDate = nullTime(endDate)
	event.DeleteAfter = nullTime(deleteAfter)
	event.DeletedAt = nullTime(deletedAt)
	if retentionDays.Valid {
		days := int(retentionDays.Int64)
		event.RetentionDays = &days
	}
	return event, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresEventRepository) queryEvents(ctx context.Context, op, query string, args ...any) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr(op, fmt.Errorf("failed to scan event: %w", err))
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, fmt.Errorf("row iteration error: %w", err))
	}
	return events, nil
}

// Create inserts a new event. The normalized title is stored alongside it so
// candidate lookups can use a prefix index.
func (r *PostgresEventRepository) Create(ctx context.Context, event models.Event) error {
	query := `
		INSERT INTO events (
			id, source, source_priority, title, title_key, description, category,
			venue_name, venue_area, image_url, ticket_url, start_date, end_date,
			scraped_at, created_at, updated_at, status, delete_after, deleted_at, retention_days
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	var venueName, venueArea string
	if event.Venue != nil {
		venueName, venueArea = event.Venue.Name, event.Venue.Area
	}
	var retentionDays *int64
	if event.RetentionDays != nil {
		d := int64(*event.RetentionDays)
		retentionDays = &d
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Source,
		string(event.SourcePriority),
		event.Title,
		similarity.Normalize(event.Title),
		event.Description,
		event.Category,
		venueName,
		venueArea,
		event.ImageURL,
		event.TicketURL,
		event.StartDate,
		event.EndDate,
		event.ScrapedAt,
		event.CreatedAt,
		event.UpdatedAt,
		event.Status,
		event.DeleteAfter,
		event.DeletedAt,
		retentionDays,
	)
	if err != nil {
		return wrapErr("database.create", fmt.Errorf("failed to insert event: %w", err))
	}
	return nil
}

// GetByID retrieves an event by its ID, or nil when it does not exist.
func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("database.get", fmt.Errorf("failed to query event: %w", err))
	}
	return &event, nil
}

// FindCandidates returns a bounded set of active events near q. Rows are
// ranked before LIMIT: title-prefix matches, then same source, then the
// start dates nearest the anchor.
func (r *PostgresEventRepository) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status = 'active'
		  AND id <> $1
		  AND (
		        (start_date BETWEEN $2 AND $3)
		     OR ($4::text <> '' AND title_key LIKE $4::text || '%')
		  )
		ORDER BY ($4::text <> '' AND title_key LIKE $4::text || '%') DESC,
		         (source = $5) DESC,
		         ABS(EXTRACT(EPOCH FROM (start_date - $7::timestamptz))) NULLS LAST,
		         id
		LIMIT $6`

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	return r.queryEvents(ctx, "database.find_candidates", query,
		q.ExcludeID, q.WindowStart, q.WindowEnd, q.TitlePrefix, q.Source, limit, q.Anchor)
}

// MergeFields fills empty columns from patch. It reports whether anything
// changed; a missing event is a not_found error.
func (r *PostgresEventRepository) MergeFields(ctx context.Context, id string, patch models.MergePatch) (bool, error) {
	query := `
		UPDATE events SET
			description = COALESCE(NULLIF(description, ''), NULLIF($2, '')),
			category    = COALESCE(NULLIF(category, ''), NULLIF($3, '')),
			image_url   = COALESCE(NULLIF(image_url, ''), NULLIF($4, '')),
			ticket_url  = COALESCE(NULLIF(ticket_url, ''), NULLIF($5, '')),
			venue_name  = COALESCE(NULLIF(venue_name, ''), NULLIF($6, '')),
			venue_area  = COALESCE(NULLIF(venue_area, ''), NULLIF($7, '')),
			end_date    = COALESCE(end_date, $8),
			updated_at  = NOW()
		WHERE id = $1
		  AND (
		        (COALESCE(description, '') = '' AND $2 <> '')
		     OR (COALESCE(category, '') = '' AND $3 <> '')
		     OR (COALESCE(image_url, '') = '' AND $4 <> '')
		     OR (COALESCE(ticket_url, '') = '' AND $5 <> '')
		     OR (COALESCE(venue_name, '') = '' AND $6 <> '')
		     OR (COALESCE(venue_area, '') = '' AND $7 <> '')
		     OR (end_date IS NULL AND $8::timestamptz IS NOT NULL)
		  )`

	result, err := r.db.ExecContext(ctx, query, id,
		patch.Description, patch.Category, patch.ImageURL, patch.TicketURL,
		patch.VenueName, patch.VenueArea, patch.EndDate)
	if err != nil {
		return false, wrapErr("database.merge", fmt.Errorf("failed to merge event: %w", err))
	}
	return r.affectedOrMissing(ctx, "database.merge", id, result)
}

// SetRetention stamps delete_after and source_priority. Without force only
// rows with a NULL delete_after are touched, which keeps the call idempotent.
func (r *PostgresEventRepository) SetRetention(ctx context.Context, id string, deleteAfter time.Time, priority models.Priority, force bool) (bool, error) {
	query := `
		UPDATE events
		SET delete_after = $2, source_priority = $3, updated_at = NOW()
		WHERE id = $1 AND ($4 OR delete_after IS NULL)`

	result, err := r.db.ExecContext(ctx, query, id, deleteAfter, string(priority), force)
	if err != nil {
		return false, wrapErr("database.set_retention", fmt.Errorf("failed to set retention: %w", err))
	}
	return r.affectedOrMissing(ctx, "database.set_retention", id, result)
}

func (r *PostgresEventRepository) affectedOrMissing(ctx context.Context, op, id string, result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr(op, err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, wrapErr(op, err)
	}
	if !exists {
		return false, apperr.NotFound(op, id)
	}
	return false, nil
}

// ListMissingRetention pages through non-deleted events without delete_after
// created before q.Before.
func (r *PostgresEventRepository) ListMissingRetention(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE delete_after IS NULL AND status <> 'deleted' AND created_at < $1 AND id > $2
		ORDER BY id
		LIMIT $3`
	return r.queryEvents(ctx, "database.list_missing_retention", query, q.Before, q.AfterID, q.Limit)
}

// ListExpired pages through active or expired events whose
// delete_after <= q.Before.
func (r *PostgresEventRepository) ListExpired(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status IN ('active', 'expired') AND delete_after <= $1 AND id > $2
		ORDER BY id
		LIMIT $3`
	return r.queryEvents(ctx, "database.list_expired", query, q.Before, q.AfterID, q.Limit)
}

// ListEnded pages through active events that finished before q.Before.
func (r *PostgresEventRepository) ListEnded(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status = 'active'
		  AND (end_date < $1 OR (end_date IS NULL AND start_date < $2))
		  AND id > $3
		ORDER BY id
		LIMIT $4`
	return r.queryEvents(ctx, "database.list_ended", query,
		q.Before, q.Before.Add(-24*time.Hour), q.AfterID, q.Limit)
}

// SoftDelete flips the given events to deleted in one statement. Rows that
// are already deleted or cancelled, or whose delete_after moved into the future are left
// alone, so repeated sweeps are no-ops.
func (r *PostgresEventRepository) SoftDelete(ctx context.Context, ids []string, now time.Time) ([]models.EventRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE events
		SET status = 'deleted', deleted_at = $2, updated_at = $2
		WHERE id = ANY($1) AND status IN ('active', 'expired') AND delete_after <= $2
		RETURNING id, source, COALESCE(source_priority, '')`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return nil, wrapErr("database.soft_delete", fmt.Errorf("failed to soft delete events: %w", err))
	}
	defer rows.Close()

	var refs []models.EventRef
	for rows.Next() {
		var ref models.EventRef
		if err := rows.Scan(&ref.ID, &ref.Source, &ref.Priority); err != nil {
			return nil, wrapErr("database.soft_delete", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("database.soft_delete", err)
	}
	return refs, nil
}

// MarkExpired flips still-active events to expired.
func (r *PostgresEventRepository) MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = 'expired', updated_at = $2 WHERE id = ANY($1) AND status = 'active'`,
		pq.Array(ids), now)
	if err != nil {
		return 0, wrapErr("database.mark_expired", fmt.Errorf("failed to mark events expired: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("database.mark_expired", err)
	}
	return n, nil
}

// CountByPriorityStatus groups events by source priority and status.
func (r *PostgresEventRepository) CountByPriorityStatus(ctx context.Context) ([]models.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(source_priority, ''), status, COUNT(*)
		FROM events
		GROUP BY 1, 2
		ORDER BY 1, 2`)
	if err != nil {
		return nil, wrapErr("database.count_by_priority_status", err)
	}
	defer rows.Close()

	var out []models.StatusCount
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Priority, &c.Status, &c.Count); err != nil {
			return nil, wrapErr("database.count_by_priority_status", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("database.count_by_priority_status", err)
	}
	return out, nil
}

// CountMissingRetention counts active events without delete_after.
func (r *PostgresEventRepository) CountMissingRetention(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status = 'active' AND delete_after IS NULL`).Scan(&n)
	return n, wrapErr("database.count_missing_retention", err)
}

// CountOverdue counts active or expired events whose delete_after has passed.
func (r *PostgresEventRepository) CountOverdue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status IN ('active', 'expired') AND delete_after <= $1`, now).Scan(&n)
	return n, wrapErr("database.count_overdue", err)
}

// SourceBreakdown aggregates events per source.
func (r *PostgresEventRepository) SourceBreakdown(ctx context.Context, now time.Time) ([]models.SourceStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source,
		       COALESCE(MAX(source_priority), ''),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'expired'),
		       COUNT(*) FILTER (WHERE status = 'deleted'),
		       COUNT(*) FILTER (WHERE status IN ('active', 'expired') AND delete_after <= $1),
		       MIN(scraped_at),
		       MAX(scraped_at)
		FROM events
		GROUP BY source
		ORDER BY source`, now)
	if err != nil {
		return nil, wrapErr("database.source_breakdown", err)
	}
	defer rows.Close()

	var out []models.SourceStats
	for rows.Next() {
		var s models.SourceStats
		var oldest, newest sql.NullTime
		if err := rows.Scan(&s.Source, &s.Priority, &s.Total, &s.Active, &s.Expired, &s.Deleted, &s.Overdue, &oldest, &newest); err != nil {
			return nil, wrapErr("database.source_breakdown", err)
		}
		s.OldestScan = nullTime(oldest)
		s.NewestScan = nullTime(newest)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("database.source_breakdown", err)
	}
	return out, nil
}

// Footprint reports the row count and the summed on-disk size of all rows.
func (r *PostgresEventRepository) Footprint(ctx context.Context) (models.Footprint, error) {
	var fp models.Footprint
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(pg_column_size(e.*)), 0) FROM events e`).Scan(&fp.Documents, &fp.TotalBytes)
	return fp, wrapErr("database.footprint", err)
}

// CleanupCounts reports cleaned versus overdue events and the cleanup lag.
func (r *PostgresEventRepository) CleanupCounts(ctx context.Context, now time.Time) (models.CleanupCounts, error) {
	var c models.CleanupCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'deleted' AND deleted_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE status IN ('active', 'expired') AND delete_after <= $1),
		       COALESCE(AVG(GREATEST(EXTRACT(EPOCH FROM deleted_at - delete_after), 0))
		                FILTER (WHERE status = 'deleted' AND deleted_at IS NOT NULL AND delete_after IS NOT NULL), 0),
		       COALESCE(MAX(GREATEST(EXTRACT(EPOCH FROM deleted_at - delete_after), 0))
		                FILTER (WHERE status = 'deleted' AND deleted_at IS NOT NULL AND delete_after IS NOT NULL), 0)
		FROM events`, now).Scan(&c.Cleaned, &c.Overdue, &c.AvgLagSeconds, &c.MaxLagSeconds)
	return c, wrapErr("database.cleanup_counts", err)
}
