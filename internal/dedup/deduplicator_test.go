package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/database"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

var concertStart = time.Date(2025, 3, 15, 20, 0, 0, 0, similarity.Dubai)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stored(id, title, venue string, start *time.Time) models.Event {
	e := models.Event{
		ID:        id,
		Source:    "platinumlist",
		Title:     title,
		StartDate: start,
		ScrapedAt: concertStart.Add(-72 * time.Hour),
		CreatedAt: concertStart.Add(-72 * time.Hour),
		Status:    models.EventStatusActive,
	}
	if venue != "" {
		e.Venue = &models.Venue{Name: venue}
	}
	return e
}

func incoming(title, venue string, start *time.Time) *models.Event {
	e := stored("new", title, venue, start)
	e.Source = "timeout_dubai"
	return &e
}

func seeded(t *testing.T, events ...models.Event) *database.MemoryEventRepository {
	t.Helper()
	repo := database.NewMemoryEventRepository()
	for _, e := range events {
		if err := repo.Create(context.Background(), e); err != nil {
			t.Fatalf("seed %s: %v", e.ID, err)
		}
	}
	return repo
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	sameDay := concertStart
	laterThatDay := concertStart.Add(time.Hour)
	nextWeek := concertStart.Add(7 * 24 * time.Hour)

	repo := seeded(t,
		stored("shreya", "Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &sameDay),
		stored("perle", "La Perle by Dragone", "", nil),
		stored("ladies", "Ladies Night", "Zuma", &nextWeek),
	)
	d := New(repo, DefaultConfig(), testLogger())

	tests := []struct {
		name    string
		event   *models.Event
		want    bool
		matchID string
	}{
		{
			name:    "case difference same venue and day",
			event:   incoming("Shreya Ghoshal Live In Dubai", "Coca-Cola Arena", &laterThatDay),
			want:    true,
			matchID: "shreya",
		},
		{
			name:    "title extension without context",
			event:   incoming("La Perle by Dragone at Al Habtoor City", "", nil),
			want:    true,
			matchID: "perle",
		},
		{
			name:  "generic title at another venue",
			event: incoming("Ladies Night", "White Dubai", &laterThatDay),
			want:  false,
		},
		{
			name:  "unrelated title",
			event: incoming("Completely Different Event", "Coca-Cola Arena", &sameDay),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, match, err := d.IsDuplicate(context.Background(), tt.event)
			if err != nil {
				t.Fatalf("IsDuplicate() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsDuplicate() = %v, want %v", got, tt.want)
			}
			if tt.want && (match == nil || match.Event.ID != tt.matchID) {
				t.Errorf("match = %+v, want %s", match, tt.matchID)
			}
			if !tt.want && match != nil {
				t.Errorf("expected no match, got %s", match.Event.ID)
			}
		})
	}
}

func TestDeduplicator_PicksHighestScore(t *testing.T) {
	start := concertStart
	repo := seeded(t,
		stored("close", "Shreya Ghoshal Live in Dubay", "Coca-Cola Arena", &start),
		stored("exact", "Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start),
	)
	d := New(repo, DefaultConfig(), testLogger())

	_, match, err := d.IsDuplicate(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start))
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Event.ID != "exact" {
		t.Errorf("expected exact match, got %+v", match)
	}
}

func TestDeduplicator_TitleMatchSurvivesCandidateLimit(t *testing.T) {
	start := concertStart
	var events []models.Event
	for i := 0; i < 200; i++ {
		brunch := stored(fmt.Sprintf("brunch-%03d", i), fmt.Sprintf("Brunch Number %d", i), "", &start)
		brunch.Source = "timeout_dubai"
		events = append(events, brunch)
	}
	events = append(events, stored("shreya", "Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start))
	repo := seeded(t, events...)

	cfg := DefaultConfig()
	cfg.MaxCandidates = 200
	d := New(repo, cfg, testLogger())

	got, match, err := d.IsDuplicate(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start))
	if err != nil {
		t.Fatal(err)
	}
	if !got || match == nil || match.Event.ID != "shreya" {
		t.Fatalf("IsDuplicate() = %v, %+v; want match on shreya", got, match)
	}

	candidates, err := d.FindCandidates(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "", &start))
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 200 || candidates[0].ID != "shreya" {
		t.Errorf("candidates = %d, first %s; want 200 with shreya first", len(candidates), candidates[0].ID)
	}
}

func TestDeduplicator_StoreFailurePropagates(t *testing.T) {
	repo := database.NewMemoryEventRepository()
	repo.FailWith = errors.New("connection reset by peer")
	d := New(repo, DefaultConfig(), testLogger())

	start := concertStart
	dup, match, err := d.IsDuplicate(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "", &start))
	if !apperr.Is(err, apperr.KindStoreUnavailable) {
		t.Fatalf("expected store_unavailable error, got %v", err)
	}
	if dup || match != nil {
		t.Error("a failed lookup must not produce a verdict")
	}

	result, err := d.Screen(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "", &start))
	if err == nil {
		t.Fatal("Screen() should fail when the store is unavailable")
	}
	if result.Decision == DecisionInsert {
		t.Error("Screen() must not fall back to insert")
	}
}

func TestDeduplicator_ValidationError(t *testing.T) {
	d := New(database.NewMemoryEventRepository(), DefaultConfig(), testLogger())

	_, _, err := d.IsDuplicate(context.Background(), incoming("   ", "", nil))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDeduplicator_Screen(t *testing.T) {
	start := concertStart
	end := concertStart.Add(3 * time.Hour)

	existing := stored("shreya", "Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start)
	existing.Description = "Original description"

	t.Run("merges missing fields without overwriting", func(t *testing.T) {
		repo := seeded(t, existing)
		d := New(repo, DefaultConfig(), testLogger())

		in := incoming("Shreya Ghoshal Live In Dubai", "Coca-Cola Arena", &start)
		in.Description = "New description"
		in.ImageURL = "https://img.example/shreya.jpg"
		in.EndDate = &end

		result, err := d.Screen(context.Background(), in)
		if err != nil {
			t.Fatalf("Screen() error: %v", err)
		}
		if result.Decision != DecisionMerged {
			t.Fatalf("decision = %s, want merged", result.Decision)
		}

		got, _ := repo.GetByID(context.Background(), "shreya")
		if got.Description != "Original description" {
			t.Errorf("description overwritten: %q", got.Description)
		}
		if got.ImageURL != in.ImageURL {
			t.Errorf("image not merged: %q", got.ImageURL)
		}
		if got.EndDate == nil || !got.EndDate.Equal(end) {
			t.Errorf("end date not merged: %v", got.EndDate)
		}
		if repo.Len() != 1 {
			t.Errorf("duplicate was persisted: %d events", repo.Len())
		}
	})

	t.Run("rejects when nothing new", func(t *testing.T) {
		repo := seeded(t, existing)
		d := New(repo, DefaultConfig(), testLogger())

		result, err := d.Screen(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start))
		if err != nil {
			t.Fatal(err)
		}
		if result.Decision != DecisionRejected {
			t.Errorf("decision = %s, want rejected", result.Decision)
		}
	})

	t.Run("merge disabled", func(t *testing.T) {
		repo := seeded(t, existing)
		cfg := DefaultConfig()
		cfg.MergeOnMatch = false
		d := New(repo, cfg, testLogger())

		in := incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start)
		in.ImageURL = "https://img.example/shreya.jpg"
		result, err := d.Screen(context.Background(), in)
		if err != nil {
			t.Fatal(err)
		}
		if result.Decision != DecisionRejected {
			t.Errorf("decision = %s, want rejected", result.Decision)
		}
		got, _ := repo.GetByID(context.Background(), "shreya")
		if got.ImageURL != "" {
			t.Error("fields merged with merging disabled")
		}
	})

	t.Run("inserts distinct events", func(t *testing.T) {
		repo := seeded(t, existing)
		d := New(repo, DefaultConfig(), testLogger())

		result, err := d.Screen(context.Background(), incoming("Dubai Jazz Festival", "Media City Amphitheatre", &start))
		if err != nil {
			t.Fatal(err)
		}
		if result.Decision != DecisionInsert || result.Match != nil {
			t.Errorf("result = %+v, want insert", result)
		}
	})
}

type recordingStore struct {
	query models.CandidateQuery
}

func (s *recordingStore) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Event, error) {
	s.query = q
	return nil, nil
}

func (s *recordingStore) MergeFields(ctx context.Context, id string, patch models.MergePatch) (bool, error) {
	return false, nil
}

func TestDeduplicator_FindCandidatesIsBounded(t *testing.T) {
	store := &recordingStore{}
	d := New(store, DefaultConfig(), testLogger())

	start := concertStart
	if _, err := d.FindCandidates(context.Background(), incoming("Shreya Ghoshal Live in Dubai", "", &start)); err != nil {
		t.Fatal(err)
	}

	q := store.query
	if q.Limit != 200 {
		t.Errorf("limit = %d, want 200", q.Limit)
	}
	if q.TitlePrefix != "shreya ghosh" {
		t.Errorf("prefix = %q", q.TitlePrefix)
	}
	if q.WindowStart == nil || !q.WindowStart.Equal(start.Add(-72*time.Hour)) {
		t.Errorf("window start = %v", q.WindowStart)
	}
	if q.WindowEnd == nil || !q.WindowEnd.Equal(start.Add(72*time.Hour)) {
		t.Errorf("window end = %v", q.WindowEnd)
	}
	if q.Anchor == nil || !q.Anchor.Equal(start) {
		t.Errorf("anchor = %v", q.Anchor)
	}
	if q.Source != "timeout_dubai" || q.ExcludeID != "new" {
		t.Errorf("query = %+v", q)
	}
}
