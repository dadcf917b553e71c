package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/database"
	"github.com/dxbevents/eventkeeper/internal/dedup"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/policy"
	"github.com/dxbevents/eventkeeper/internal/retention"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

var (
	concertStart = time.Date(2025, 3, 15, 20, 0, 0, 0, similarity.Dubai)
	scrapedAt    = concertStart.Add(-72 * time.Hour)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2.0,
	}
}

type countingMetrics map[string]int

func (m countingMetrics) DedupDecision(decision string) { m[decision]++ }

func newTestPipeline(repo *database.MemoryEventRepository, assigner RetentionAssigner) *Pipeline {
	d := dedup.New(repo, dedup.DefaultConfig(), testLogger())
	if assigner == nil {
		assigner = retention.NewManager(repo, policy.Default(), retention.DefaultConfig(), testLogger())
	}
	cfg := DefaultPipelineConfig()
	cfg.RetryPolicy = fastPolicy()
	p := NewPipeline(repo, d, assigner, testLogger(), cfg)
	p.now = func() time.Time { return scrapedAt.Add(time.Hour) }
	return p
}

func scraped(source, title, venue string, start *time.Time) models.Event {
	e := models.Event{Source: source, Title: title, StartDate: start, ScrapedAt: scrapedAt}
	if venue != "" {
		e.Venue = &models.Venue{Name: venue}
	}
	return e
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryEventRepository()
	start := concertStart
	if err := repo.Create(ctx, models.Event{
		ID:        "shreya",
		Source:    "platinumlist",
		Title:     "Shreya Ghoshal Live in Dubai",
		Venue:     &models.Venue{Name: "Coca-Cola Arena"},
		StartDate: &start,
		ScrapedAt: scrapedAt,
		CreatedAt: scrapedAt,
		Status:    models.EventStatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	metrics := countingMetrics{}
	log := database.NewMemoryActivityLog()
	p := newTestPipeline(repo, nil).
		WithMetrics(metrics).
		WithActivity(activity.NewRecorder(log, testLogger()))

	laterThatDay := concertStart.Add(time.Hour)
	jazz := concertStart.AddDate(0, 0, 10)

	withDescription := scraped("timeout_dubai", "Shreya Ghoshal Live In Dubai", "Coca-Cola Arena", &laterThatDay)
	withDescription.Description = "An evening of Bollywood classics"

	batch := []models.Event{
		withDescription,
		scraped("whats_on_dubai", "Dubai Jazz Festival", "Media City Amphitheatre", &jazz),
		scraped("visit_dubai", "Dubai Jazz Festival", "Media City Amphitheatre", &jazz),
		scraped("webhook", "", "", nil),
		scraped("timeout_dubai", "Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", nil),
	}

	result, err := p.Ingest(ctx, batch)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	if result.Received != 5 || result.Inserted != 1 || result.Merged != 1 || result.Rejected != 1 ||
		result.Repeats != 1 || result.Invalid != 1 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(result.Items))
	}

	var inserted ItemResult
	for _, item := range result.Items {
		switch item.Outcome {
		case OutcomeInserted:
			inserted = item
		case OutcomeMerged, OutcomeRejected:
			if item.MatchID != "shreya" || item.Score < 0.85 {
				t.Errorf("%s item = %+v", item.Outcome, item)
			}
		}
	}

	if inserted.ID == "" || inserted.DeleteAfter == nil {
		t.Fatalf("inserted item = %+v", inserted)
	}
	if want := jazz.AddDate(0, 0, 7); !inserted.DeleteAfter.Equal(want) {
		t.Errorf("delete_after = %v, want %v", inserted.DeleteAfter, want)
	}

	stored, err := repo.GetByID(ctx, inserted.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID() = %v, %v", stored, err)
	}
	if stored.SourcePriority != models.PriorityHigh || stored.Status != models.EventStatusActive {
		t.Errorf("stored = %+v", stored)
	}

	merged, _ := repo.GetByID(ctx, "shreya")
	if merged.Description != "An evening of Bollywood classics" {
		t.Errorf("merge did not fill description: %q", merged.Description)
	}
	if repo.Len() != 2 {
		t.Errorf("stored events = %d, want 2", repo.Len())
	}

	if metrics[string(dedup.DecisionInsert)] != 1 || metrics[string(dedup.DecisionMerged)] != 1 || metrics[string(dedup.DecisionRejected)] != 1 {
		t.Errorf("metrics = %v", metrics)
	}

	entries, _ := log.List(ctx, 10, string(models.ActivityTypeIngest))
	if len(entries) != 1 || *entries[0].EventCount != 1 {
		t.Errorf("activity = %+v", entries)
	}
}

func TestPipeline_IngestIgnoresIncomingRetention(t *testing.T) {
	repo := database.NewMemoryEventRepository()
	p := newTestPipeline(repo, nil)

	bogus := scrapedAt.AddDate(1, 0, 0)
	event := scraped("firecrawl", "Desert Yoga Retreat", "", nil)
	event.DeleteAfter = &bogus
	event.SourcePriority = models.PriorityHigh

	result, err := p.Ingest(context.Background(), []models.Event{event})
	if err != nil {
		t.Fatal(err)
	}
	item := result.Items[0]
	if item.DeleteAfter == nil || !item.DeleteAfter.Equal(scrapedAt.AddDate(0, 0, 1)) {
		t.Errorf("delete_after = %v, want one day after scrape", item.DeleteAfter)
	}
}

func TestPipeline_StoreOutageAbortsAndAllowsRetry(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryEventRepository()
	repo.FailWith = errors.New("connection refused")
	p := newTestPipeline(repo, nil)

	day := concertStart
	batch := []models.Event{
		scraped("platinumlist", "Coldplay Music of the Spheres", "Zayed Sports City", &day),
		scraped("platinumlist", "Disney on Ice", "Coca-Cola Arena", &day),
	}

	result, err := p.Ingest(ctx, batch)
	if !apperr.Is(err, apperr.KindStoreUnavailable) {
		t.Fatalf("Ingest() error = %v, want store_unavailable", err)
	}
	if result.Failed != 1 || result.Inserted != 0 || len(result.Items) != 1 {
		t.Errorf("partial result = %+v", result)
	}

	repo.FailWith = nil
	result, err = p.Ingest(ctx, batch)
	if err != nil {
		t.Fatalf("retry Ingest() error: %v", err)
	}
	if result.Inserted != 2 || result.Repeats != 0 {
		t.Errorf("retry result = %+v, failed events must not be filtered as repeats", result)
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	repo := database.NewMemoryEventRepository()
	p := newTestPipeline(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Ingest(ctx, []models.Event{scraped("webhook", "Dubai Food Festival", "", nil)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ingest() error = %v, want context.Canceled", err)
	}
	if result.Inserted != 0 || repo.Len() != 0 {
		t.Errorf("result = %+v, stored = %d", result, repo.Len())
	}
}

type failingAssigner struct{}

func (failingAssigner) AssignRetention(ctx context.Context, event *models.Event, force bool) (time.Time, error) {
	return time.Time{}, apperr.StoreUnavailable("database.set_retention", errors.New("timeout"))
}

func TestPipeline_RetentionDeferred(t *testing.T) {
	repo := database.NewMemoryEventRepository()
	p := newTestPipeline(repo, failingAssigner{})

	result, err := p.Ingest(context.Background(), []models.Event{scraped("meetup", "Go Dubai Meetup", "", nil)})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if result.Inserted != 1 || result.RetentionDeferred != 1 {
		t.Errorf("result = %+v", result)
	}
	if repo.Len() != 1 {
		t.Errorf("event must stay stored for the assign sweep")
	}
}
