package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/auth"
	"github.com/dxbevents/eventkeeper/internal/database"
	"github.com/dxbevents/eventkeeper/internal/dedup"
	"github.com/dxbevents/eventkeeper/internal/health"
	"github.com/dxbevents/eventkeeper/internal/ingestion"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/policy"
	"github.com/dxbevents/eventkeeper/internal/retention"
)

type testServer struct {
	mux   *http.ServeMux
	repo  *database.MemoryEventRepository
	log   *database.MemoryActivityLog
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := database.NewMemoryEventRepository()
	activityLog := database.NewMemoryActivityLog()
	recorder := activity.NewRecorder(activityLog, logger)

	d := dedup.New(repo, dedup.DefaultConfig(), logger)
	manager := retention.NewManager(repo, policy.Default(), retention.DefaultConfig(), logger).WithActivity(recorder)
	monitor := health.NewMonitor(repo, repo, health.DefaultConfig(), logger).WithActivity(recorder)
	pipelineConfig := ingestion.DefaultPipelineConfig()
	pipelineConfig.RetryPolicy.MaxRetries = 0
	pipeline := ingestion.NewPipeline(repo, d, manager, logger, pipelineConfig).WithActivity(recorder)

	authConfig := auth.Config{JWTSecret: "test-secret", Password: "letmein", TokenDuration: time.Hour}
	token, _, err := authConfig.Login("letmein")
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	SetupRoutes(mux, Dependencies{
		Ingester:  pipeline,
		Dedup:     d,
		Retention: manager,
		Health:    monitor,
		Activity:  activityLog,
		Auth:      authConfig,
		Logger:    logger,
	})

	return &testServer{mux: mux, repo: repo, log: activityLog, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIngestRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	body := IngestRequest{Events: []models.Event{{Source: "webhook", Title: "Dubai Food Festival"}}}

	if rec := s.do(t, http.MethodPost, "/api/events/ingest", body, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/events/ingest", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var result ingestion.IngestResult
	decode(t, rec, &result)
	if result.Inserted != 1 || s.repo.Len() != 1 {
		t.Errorf("result = %+v", result)
	}

	entries, _ := s.log.List(context.Background(), 10, string(models.ActivityTypeIngest))
	if len(entries) != 1 || entries[0].Trigger != activity.TriggerAPI {
		t.Errorf("activity = %+v", entries)
	}
}

func TestIngestRejectsBadEnvelope(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty batch", IngestRequest{}},
		{"repeated ids", IngestRequest{Events: []models.Event{{ID: "a", Title: "x", Source: "webhook"}, {ID: "a", Title: "y", Source: "webhook"}}}},
		{"not json", "events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/events/ingest", tt.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Error.Kind != "validation" {
				t.Errorf("kind = %q", body.Error.Kind)
			}
		})
	}
}

func TestCheckDuplicate(t *testing.T) {
	s := newTestServer(t)
	start := time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC)
	if err := s.repo.Create(context.Background(), models.Event{
		ID:        "shreya",
		Source:    "platinumlist",
		Title:     "Shreya Ghoshal Live in Dubai",
		Venue:     &models.Venue{Name: "Coca-Cola Arena"},
		StartDate: &start,
		ScrapedAt: start.AddDate(0, 0, -3),
		CreatedAt: start.AddDate(0, 0, -3),
		Status:    models.EventStatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	candidate := models.Event{
		Source:    "timeout_dubai",
		Title:     "SHREYA GHOSHAL LIVE IN DUBAI",
		Venue:     &models.Venue{Name: "Coca-Cola Arena"},
		StartDate: &start,
		ScrapedAt: start.AddDate(0, 0, -1),
	}
	rec := s.do(t, http.MethodPost, "/api/events/check-duplicate", candidate, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var resp DuplicateResponse
	decode(t, rec, &resp)
	if !resp.Duplicate || resp.Match == nil || resp.Match.Event.ID != "shreya" || resp.Score != 1 {
		t.Errorf("response = %+v", resp)
	}

	invalid := s.do(t, http.MethodPost, "/api/events/check-duplicate", models.Event{Source: "webhook"}, false)
	if invalid.Code != http.StatusBadRequest {
		t.Errorf("untitled event status = %d, want 400", invalid.Code)
	}
}

func TestLifecycleReadEndpoints(t *testing.T) {
	s := newTestServer(t)

	paths := []string{
		"/api/lifecycle/retention-stats",
		"/api/lifecycle/storage-health",
		"/api/lifecycle/storage-cost",
		"/api/lifecycle/source-stats",
		"/api/lifecycle/cleanup-efficiency",
		"/api/lifecycle/reports",
		"/api/lifecycle/schedule",
		"/api/lifecycle/activity",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			if rec := s.do(t, http.MethodGet, path, nil, false); rec.Code != http.StatusOK {
				t.Errorf("GET status = %d body = %s", rec.Code, rec.Body)
			}
			if rec := s.do(t, http.MethodDelete, path, nil, false); rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("DELETE status = %d, want 405", rec.Code)
			}
		})
	}
}

func TestLifecycleTriggers(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/lifecycle/setup-deletion", "/api/lifecycle/cleanup", "/api/lifecycle/expire"} {
		if rec := s.do(t, http.MethodPost, path, nil, false); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s unauthenticated status = %d", path, rec.Code)
		}
		if rec := s.do(t, http.MethodPost, path, nil, true); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d body = %s", path, rec.Code, rec.Body)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/lifecycle/activity?activity_type=cleanup", nil, false)
	var body struct {
		Logs []models.ActivityLog `json:"logs"`
	}
	decode(t, rec, &body)
	if len(body.Logs) != 1 || body.Logs[0].Trigger != activity.TriggerAPI {
		t.Errorf("cleanup activity = %+v", body.Logs)
	}

	if rec := s.do(t, http.MethodGet, "/api/lifecycle/activity?activity_type=vacuum", nil, false); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown activity type status = %d, want 400", rec.Code)
	}
}

func TestCleanupStoreOutage(t *testing.T) {
	s := newTestServer(t)
	s.repo.FailWith = errors.New("connection refused")

	rec := s.do(t, http.MethodPost, "/api/lifecycle/cleanup", nil, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Error   errorDetail           `json:"error"`
		Partial *models.CleanupResult `json:"partial"`
	}
	decode(t, rec, &body)
	if body.Error.Kind != "store_unavailable" || body.Partial == nil {
		t.Errorf("body = %+v", body)
	}
}

func TestWeeklyReportPersistFlag(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodPost, "/api/lifecycle/weekly-report?persist=false", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if rec := s.do(t, http.MethodPost, "/api/lifecycle/weekly-report", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	rec := s.do(t, http.MethodGet, "/api/lifecycle/reports", nil, false)
	var body struct {
		Count int `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 {
		t.Errorf("saved reports = %d, want 1", body.Count)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Password: "letmein"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp LoginResponse
	decode(t, rec, &resp)
	if _, err := auth.ValidateToken(resp.Token, "test-secret"); err != nil {
		t.Errorf("issued token invalid: %v", err)
	}

	if rec := s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Password: "nope"}, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}
}
