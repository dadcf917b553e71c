package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

// MemoryEventRepository is an in-memory EventStore for tests and local
// development. Every method holds the lock for its whole duration, so each
// call behaves like a single atomic statement.
type MemoryEventRepository struct {
	mu      sync.RWMutex
	events  map[string]models.Event
	reports []models.WeeklyReport

	// FailWith, when set, is returned by every call. Tests use it to simulate
	// an unreachable store.
	FailWith error
}

// NewMemoryEventRepository creates an empty in-memory repository.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		events: make(map[string]models.Event),
	}
}

func (r *MemoryEventRepository) fail(op string) error {
	if r.FailWith != nil {
		return apperr.StoreUnavailable(op, r.FailWith)
	}
	return nil
}

// Create stores a new event.
func (r *MemoryEventRepository) Create(ctx context.Context, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.create"); err != nil {
		return err
	}
	if _, exists := r.events[event.ID]; exists {
		return fmt.Errorf("event already exists: %s", event.ID)
	}
	r.events[event.ID] = cloneEvent(event)
	return nil
}

// GetByID returns the event or nil when it does not exist.
func (r *MemoryEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.get"); err != nil {
		return nil, err
	}
	event, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	out := cloneEvent(event)
	return &out, nil
}

// FindCandidates returns active events whose start date lies in the window or
// whose normalized title shares the prefix. Ranking happens before the limit
// is applied: title-prefix matches first, then same-source events, then the
// start dates nearest the anchor.
func (r *MemoryEventRepository) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.find_candidates"); err != nil {
		return nil, err
	}

	type ranked struct {
		event       models.Event
		prefixMatch bool
	}
	var matches []ranked
	for _, event := range r.events {
		if event.ID == q.ExcludeID || event.Status != models.EventStatusActive {
			continue
		}

		inWindow := q.WindowStart != nil && q.WindowEnd != nil && event.StartDate != nil &&
			!event.StartDate.Before(*q.WindowStart) && !event.StartDate.After(*q.WindowEnd)
		prefixMatch := q.TitlePrefix != "" && strings.HasPrefix(similarity.Normalize(event.Title), q.TitlePrefix)

		if inWindow || prefixMatch {
			matches = append(matches, ranked{event: cloneEvent(event), prefixMatch: prefixMatch})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.prefixMatch != b.prefixMatch {
			return a.prefixMatch
		}
		sa, sb := a.event.Source == q.Source, b.event.Source == q.Source
		if sa != sb {
			return sa
		}
		da, oka := anchorDistance(a.event.StartDate, q.Anchor)
		db, okb := anchorDistance(b.event.StartDate, q.Anchor)
		if oka != okb {
			return oka
		}
		if oka && da != db {
			return da < db
		}
		return a.event.ID < b.event.ID
	})

	out := make([]models.Event, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.event)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// anchorDistance is the absolute gap between start and anchor. ok is false
// when either is unknown, and such events rank last.
func anchorDistance(start, anchor *time.Time) (time.Duration, bool) {
	if start == nil || anchor == nil {
		return 0, false
	}
	d := start.Sub(*anchor)
	if d < 0 {
		d = -d
	}
	return d, true
}

// MergeFields fills empty fields of the stored event from patch.
func (r *MemoryEventRepository) MergeFields(ctx context.Context, id string, patch models.MergePatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.merge"); err != nil {
		return false, err
	}
	event, ok := r.events[id]
	if !ok {
		return false, apperr.NotFound("database.merge", id)
	}

	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&event.Description, patch.Description)
	fill(&event.Category, patch.Category)
	fill(&event.ImageURL, patch.ImageURL)
	fill(&event.TicketURL, patch.TicketURL)
	if patch.VenueName != "" || patch.VenueArea != "" {
		if event.Venue == nil {
			event.Venue = &models.Venue{}
		}
		fill(&event.Venue.Name, patch.VenueName)
		fill(&event.Venue.Area, patch.VenueArea)
	}
	if event.EndDate == nil && patch.EndDate != nil {
		end := *patch.EndDate
		event.EndDate = &end
		changed = true
	}

	if changed {
		event.UpdatedAt = time.Now()
		r.events[id] = event
	}
	return changed, nil
}

// SetRetention stamps delete_after and source_priority. Without force, events
// that already carry delete_after are left untouched.
func (r *MemoryEventRepository) SetRetention(ctx context.Context, id string, deleteAfter time.Time, priority models.Priority, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.set_retention"); err != nil {
		return false, err
	}
	event, ok := r.events[id]
	if !ok {
		return false, apperr.NotFound("database.set_retention", id)
	}
	if event.DeleteAfter != nil && !force {
		return false, nil
	}

	da := deleteAfter
	event.DeleteAfter = &da
	event.SourcePriority = priority
	event.UpdatedAt = time.Now()
	r.events[id] = event
	return true, nil
}

// ListMissingRetention pages through non-deleted events without delete_after
// created before q.Before.
func (r *MemoryEventRepository) ListMissingRetention(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	return r.page("database.list_missing_retention", q, func(e models.Event) bool {
		return e.DeleteAfter == nil && e.Status != models.EventStatusDeleted && e.CreatedAt.Before(q.Before)
	})
}

// ListExpired pages through active or expired events whose
// delete_after <= q.Before.
func (r *MemoryEventRepository) ListExpired(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	return r.page("database.list_expired", q, func(e models.Event) bool {
		return e.IsOverdue(q.Before)
	})
}

// ListEnded pages through active events that finished before q.Before.
func (r *MemoryEventRepository) ListEnded(ctx context.Context, q models.PageQuery) ([]models.Event, error) {
	return r.page("database.list_ended", q, func(e models.Event) bool {
		return e.Status == models.EventStatusActive && e.HasEnded(q.Before)
	})
}

func (r *MemoryEventRepository) page(op string, q models.PageQuery, match func(models.Event) bool) ([]models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail(op); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(r.events))
	for id, event := range r.events {
		if id > q.AfterID && match(event) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}

	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEvent(r.events[id]))
	}
	return out, nil
}

// SoftDelete marks the given events deleted when they are still active or
// expired and past their delete_after. It returns the events that actually transitioned.
func (r *MemoryEventRepository) SoftDelete(ctx context.Context, ids []string, now time.Time) ([]models.EventRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.soft_delete"); err != nil {
		return nil, err
	}

	var refs []models.EventRef
	for _, id := range ids {
		event, ok := r.events[id]
		if !ok || !event.IsOverdue(now) {
			continue
		}
		at := now
		event.Status = models.EventStatusDeleted
		event.DeletedAt = &at
		event.UpdatedAt = now
		r.events[id] = event
		refs = append(refs, models.EventRef{ID: id, Source: event.Source, Priority: event.SourcePriority})
	}
	return refs, nil
}

// MarkExpired flips still-active events to expired.
func (r *MemoryEventRepository) MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.mark_expired"); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		event, ok := r.events[id]
		if !ok || event.Status != models.EventStatusActive {
			continue
		}
		event.Status = models.EventStatusExpired
		event.UpdatedAt = now
		r.events[id] = event
		n++
	}
	return n, nil
}

// CountByPriorityStatus groups events by source priority and status.
func (r *MemoryEventRepository) CountByPriorityStatus(ctx context.Context) ([]models.StatusCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.count_by_priority_status"); err != nil {
		return nil, err
	}

	type key struct {
		p models.Priority
		s models.EventStatus
	}
	counts := make(map[key]int64)
	for _, event := range r.events {
		counts[key{event.SourcePriority, event.Status}]++
	}

	out := make([]models.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.StatusCount{Priority: k.p, Status: k.s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// CountMissingRetention counts active events without delete_after.
func (r *MemoryEventRepository) CountMissingRetention(ctx context.Context) (int64, error) {
	return r.count("database.count_missing_retention", func(e models.Event) bool {
		return e.Status == models.EventStatusActive && e.DeleteAfter == nil
	})
}

// CountOverdue counts active or expired events whose delete_after has passed.
func (r *MemoryEventRepository) CountOverdue(ctx context.Context, now time.Time) (int64, error) {
	return r.count("database.count_overdue", func(e models.Event) bool {
		return e.IsOverdue(now)
	})
}

func (r *MemoryEventRepository) count(op string, match func(models.Event) bool) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail(op); err != nil {
		return 0, err
	}
	var n int64
	for _, event := range r.events {
		if match(event) {
			n++
		}
	}
	return n, nil
}

// SourceBreakdown aggregates events per source.
func (r *MemoryEventRepository) SourceBreakdown(ctx context.Context, now time.Time) ([]models.SourceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.source_breakdown"); err != nil {
		return nil, err
	}

	bySource := make(map[string]*models.SourceStats)
	for _, event := range r.events {
		stats, ok := bySource[event.Source]
		if !ok {
			stats = &models.SourceStats{Source: event.Source, Priority: event.SourcePriority}
			bySource[event.Source] = stats
		}
		if stats.Priority == "" {
			stats.Priority = event.SourcePriority
		}
		stats.Total++
		if event.IsOverdue(now) {
			stats.Overdue++
		}
		switch event.Status {
		case models.EventStatusActive:
			stats.Active++
		case models.EventStatusExpired:
			stats.Expired++
		case models.EventStatusDeleted:
			stats.Deleted++
		}
		scraped := event.ScrapedAt
		if stats.OldestScan == nil || scraped.Before(*stats.OldestScan) {
			stats.OldestScan = &scraped
		}
		if stats.NewestScan == nil || scraped.After(*stats.NewestScan) {
			stats.NewestScan = &scraped
		}
	}

	out := make([]models.SourceStats, 0, len(bySource))
	for _, stats := range bySource {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// Footprint sums the JSON size of every stored event.
func (r *MemoryEventRepository) Footprint(ctx context.Context) (models.Footprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.footprint"); err != nil {
		return models.Footprint{}, err
	}

	var fp models.Footprint
	for _, event := range r.events {
		data, err := json.Marshal(event)
		if err != nil {
			return models.Footprint{}, fmt.Errorf("failed to size event %s: %w", event.ID, err)
		}
		fp.Documents++
		fp.TotalBytes += int64(len(data))
	}
	return fp, nil
}

// CleanupCounts reports cleaned versus overdue events and the cleanup lag.
func (r *MemoryEventRepository) CleanupCounts(ctx context.Context, now time.Time) (models.CleanupCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.cleanup_counts"); err != nil {
		return models.CleanupCounts{}, err
	}

	var counts models.CleanupCounts
	var lagTotal float64
	var lagN int
	for _, event := range r.events {
		switch {
		case event.Status == models.EventStatusDeleted && event.DeletedAt != nil:
			counts.Cleaned++
			if event.DeleteAfter != nil {
				lag := event.DeletedAt.Sub(*event.DeleteAfter).Seconds()
				if lag < 0 {
					lag = 0
				}
				lagTotal += lag
				lagN++
				if lag > counts.MaxLagSeconds {
					counts.MaxLagSeconds = lag
				}
			}
		case event.IsOverdue(now):
			counts.Overdue++
		}
	}
	if lagN > 0 {
		counts.AvgLagSeconds = lagTotal / float64(lagN)
	}
	return counts, nil
}

// SaveReport appends a report snapshot.
func (r *MemoryEventRepository) SaveReport(ctx context.Context, report models.WeeklyReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fail("database.save_report"); err != nil {
		return err
	}
	r.reports = append(r.reports, report)
	return nil
}

// ListReports returns the newest reports first.
func (r *MemoryEventRepository) ListReports(ctx context.Context, limit int) ([]models.WeeklyReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.fail("database.list_reports"); err != nil {
		return nil, err
	}

	out := make([]models.WeeklyReport, 0, len(r.reports))
	for i := len(r.reports) - 1; i >= 0; i-- {
		out = append(out, r.reports[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (r *MemoryEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// cloneEvent deep-copies the pointer fields so callers never share state
// with the repository.
func cloneEvent(e models.Event) models.Event {
	if e.Venue != nil {
		v := *e.Venue
		e.Venue = &v
	}
	e.StartDate = cloneTime(e.StartDate)
	e.EndDate = cloneTime(e.EndDate)
	e.DeleteAfter = cloneTime(e.DeleteAfter)
	e.DeletedAt = cloneTime(e.DeletedAt)
	if e.RetentionDays != nil {
		d := *e.RetentionDays
		e.RetentionDays = &d
	}
	return e
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
