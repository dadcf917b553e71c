package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dxbevents/eventkeeper/internal/models"
)

func TestPostgresEventRepository_Lifecycle(t *testing.T) {
	dbURL := os.Getenv("EVENTKEEPER_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Requires database connection - set EVENTKEEPER_TEST_DATABASE_URL to run")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = dbURL
	db, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := RunMigrations(ctx, db, Migrations(), logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	repo := NewPostgresEventRepository(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	start := now.Add(48 * time.Hour)

	event := models.Event{
		ID:        uuid.New().String(),
		Source:    "platinumlist",
		Title:     "Integration Test Concert " + uuid.New().String()[:8],
		StartDate: &start,
		ScrapedAt: now,
		CreatedAt: now.Add(-time.Minute),
		UpdatedAt: now,
		Status:    models.EventStatusActive,
	}
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer db.ExecContext(ctx, "DELETE FROM events WHERE id = $1", event.ID)

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, event.ID)
		if err != nil || got == nil {
			t.Fatalf("GetByID() = %v, %v", got, err)
		}
		if got.Title != event.Title {
			t.Errorf("title = %q, want %q", got.Title, event.Title)
		}
	})

	t.Run("candidates by prefix", func(t *testing.T) {
		got, err := repo.FindCandidates(ctx, models.CandidateQuery{TitlePrefix: "integration t", Anchor: &start, Limit: 50})
		if err != nil {
			t.Fatalf("FindCandidates() error: %v", err)
		}
		found := false
		for _, c := range got {
			if c.ID == event.ID {
				found = true
			}
		}
		if !found {
			t.Error("expected event among prefix candidates")
		}
	})

	t.Run("merge fills empty fields", func(t *testing.T) {
		changed, err := repo.MergeFields(ctx, event.ID, models.MergePatch{Description: "filled"})
		if err != nil || !changed {
			t.Fatalf("MergeFields() = %v, %v", changed, err)
		}
		changed, err = repo.MergeFields(ctx, event.ID, models.MergePatch{Description: "again"})
		if err != nil || changed {
			t.Errorf("second MergeFields() = %v, %v; want false, nil", changed, err)
		}
	})

	t.Run("retention and cleanup", func(t *testing.T) {
		past := now.Add(-time.Hour)
		updated, err := repo.SetRetention(ctx, event.ID, past, models.PriorityHigh, false)
		if err != nil || !updated {
			t.Fatalf("SetRetention() = %v, %v", updated, err)
		}
		updated, err = repo.SetRetention(ctx, event.ID, now, models.PriorityLow, false)
		if err != nil || updated {
			t.Errorf("unforced SetRetention() = %v, %v; want false, nil", updated, err)
		}

		// Expiry does not end retention; the sweep still deletes the row.
		if n, err := repo.MarkExpired(ctx, []string{event.ID}, now); err != nil || n != 1 {
			t.Fatalf("MarkExpired() = %d, %v", n, err)
		}
		expired, err := repo.ListExpired(ctx, models.PageQuery{Before: now, Limit: 1000})
		if err != nil {
			t.Fatalf("ListExpired() error: %v", err)
		}
		listed := false
		for _, e := range expired {
			if e.ID == event.ID {
				listed = true
			}
		}
		if !listed {
			t.Error("expired event missing from cleanup listing")
		}

		refs, err := repo.SoftDelete(ctx, []string{event.ID}, now)
		if err != nil || len(refs) != 1 {
			t.Fatalf("SoftDelete() = %v, %v", refs, err)
		}
		refs, err = repo.SoftDelete(ctx, []string{event.ID}, now)
		if err != nil || len(refs) != 0 {
			t.Errorf("repeat SoftDelete() = %v, %v; want none", refs, err)
		}
	})
}
