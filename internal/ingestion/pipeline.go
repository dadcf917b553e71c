// Package ingestion takes scraped event batches through duplicate screening,
// insertion and retention stamping.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/dedup"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// EventStore persists screened events.
type EventStore interface {
	Create(ctx context.Context, event models.Event) error
}

// Screener decides whether an incoming event is a duplicate.
type Screener interface {
	Screen(ctx context.Context, event *models.Event) (dedup.ScreenResult, error)
}

// RetentionAssigner stamps delete_after on a freshly inserted event.
type RetentionAssigner interface {
	AssignRetention(ctx context.Context, event *models.Event, force bool) (time.Time, error)
}

// Metrics receives screening outcomes.
type Metrics interface {
	DedupDecision(decision string)
}

// Outcome labels for a single ingested item.
const (
	OutcomeInserted = "inserted"
	OutcomeMerged   = "merged"
	OutcomeRejected = "rejected"
	OutcomeRepeat   = "repeat"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// ItemResult reports what happened to one event of a batch.
type ItemResult struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	Outcome     string     `json:"outcome"`
	MatchID     string     `json:"match_id,omitempty"`
	Score       float64    `json:"score,omitempty"`
	DeleteAfter *time.Time `json:"delete_after,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// IngestResult summarizes a batch.
type IngestResult struct {
	Received          int          `json:"received"`
	Inserted          int          `json:"inserted"`
	Merged            int          `json:"merged"`
	Rejected          int          `json:"rejected"`
	Repeats           int          `json:"repeats"`
	Invalid           int          `json:"invalid"`
	Failed            int          `json:"failed"`
	RetentionDeferred int          `json:"retention_deferred"`
	Items             []ItemResult `json:"items"`
	Duration          string       `json:"duration"`
}

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	RetryPolicy       RetryPolicy
	FingerprintWindow time.Duration
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RetryPolicy:       DefaultRetryPolicy(),
		FingerprintWindow: 24 * time.Hour,
	}
}

// Pipeline runs incoming batches through fingerprinting, screening, insert
// and retention assignment.
type Pipeline struct {
	store     EventStore
	screener  Screener
	retention RetentionAssigner
	cache     *dedup.FingerprintCache
	filter    *dedup.FingerprintFilter
	metrics   Metrics
	activity  *activity.Recorder
	logger    *slog.Logger
	config    PipelineConfig
	now       func() time.Time
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store EventStore, screener Screener, retention RetentionAssigner, logger *slog.Logger, config PipelineConfig) *Pipeline {
	if config.FingerprintWindow <= 0 {
		config.FingerprintWindow = DefaultPipelineConfig().FingerprintWindow
	}
	cache := dedup.NewFingerprintCache(config.FingerprintWindow)

	return &Pipeline{
		store:     store,
		screener:  screener,
		retention: retention,
		cache:     cache,
		filter:    dedup.NewFingerprintFilter(cache),
		metrics:   nopMetrics{},
		logger:    logger.With("component", "ingestion"),
		config:    config,
		now:       time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (p *Pipeline) WithMetrics(metrics Metrics) *Pipeline {
	if metrics != nil {
		p.metrics = metrics
	}
	return p
}

// WithActivity attaches an activity recorder.
func (p *Pipeline) WithActivity(recorder *activity.Recorder) *Pipeline {
	p.activity = recorder
	return p
}

// FilterStats exposes the exact-repeat filter counters.
func (p *Pipeline) FilterStats() dedup.FilterStats {
	return p.filter.GetStats()
}

// Ingest screens and stores a batch. Per-item failures are counted and the
// batch continues; a store outage that outlasts the retry policy, or
// cancellation, aborts the batch and returns the partial result with the
// error.
func (p *Pipeline) Ingest(ctx context.Context, events []models.Event) (IngestResult, error) {
	started := p.now()
	result := IngestResult{Received: len(events), Items: make([]ItemResult, 0, len(events))}

	evicted := p.cache.Cleanup()
	if evicted > 0 {
		p.logger.Debug("fingerprint cache cleaned", "evicted", evicted)
	}

	valid := make([]models.Event, 0, len(events))
	for _, event := range events {
		p.applyDefaults(&event, started)
		if err := event.Validate(); err != nil {
			result.Invalid++
			result.Items = append(result.Items, itemFor(event, OutcomeInvalid, err))
			continue
		}
		valid = append(valid, event)
	}

	unique, repeats := p.filter.Filter(valid)
	for _, event := range repeats {
		result.Repeats++
		result.Items = append(result.Items, itemFor(event, OutcomeRepeat, nil))
	}

	var abortErr error
	for i := range unique {
		if err := ctx.Err(); err != nil {
			abortErr = err
			p.forgetRest(unique[i:])
			break
		}

		item, err := p.ingestOne(ctx, &unique[i])
		result.Items = append(result.Items, item)
		switch item.Outcome {
		case OutcomeInserted:
			result.Inserted++
			if item.DeleteAfter == nil {
				result.RetentionDeferred++
			}
		case OutcomeMerged:
			result.Merged++
		case OutcomeRejected:
			result.Rejected++
		case OutcomeFailed:
			result.Failed++
		}

		if err != nil {
			abortErr = err
			p.forgetRest(unique[i+1:])
			break
		}
	}

	elapsed := p.now().Sub(started)
	result.Duration = elapsed.String()

	p.logger.Info("ingest batch processed",
		"received", result.Received,
		"inserted", result.Inserted,
		"merged", result.Merged,
		"rejected", result.Rejected,
		"repeats", result.Repeats,
		"invalid", result.Invalid,
		"failed", result.Failed,
		"duration", elapsed)

	p.activity.Record(ctx, models.ActivityTypeIngest,
		fmt.Sprintf("Ingested %d of %d events", result.Inserted, result.Received),
		result.Inserted, elapsed, map[string]interface{}{
			"merged":   result.Merged,
			"rejected": result.Rejected,
			"repeats":  result.Repeats,
			"invalid":  result.Invalid,
			"failed":   result.Failed,
			"aborted":  abortErr != nil,
		})

	if abortErr != nil {
		return result, fmt.Errorf("ingest aborted after %d events: %w", len(result.Items), abortErr)
	}
	return result, nil
}

// ingestOne screens, inserts and stamps a single event. The returned error
// is non-nil only when the batch must stop.
func (p *Pipeline) ingestOne(ctx context.Context, event *models.Event) (ItemResult, error) {
	var screened dedup.ScreenResult
	err := Retry(ctx, p.config.RetryPolicy, func() error {
		var err error
		screened, err = p.screener.Screen(ctx, event)
		return err
	})
	if err != nil {
		p.cache.Forget(*event)
		p.logger.Warn("duplicate screening failed", "title", event.Title, "source", event.Source, "error", err)
		return itemFor(*event, OutcomeFailed, err), abortOn(err)
	}

	p.metrics.DedupDecision(string(screened.Decision))

	switch screened.Decision {
	case dedup.DecisionMerged, dedup.DecisionRejected:
		outcome := OutcomeRejected
		if screened.Decision == dedup.DecisionMerged {
			outcome = OutcomeMerged
		}
		item := itemFor(*event, outcome, nil)
		item.ID = ""
		if screened.Match != nil {
			item.MatchID = screened.Match.Event.ID
			item.Score = screened.Match.Result.Score
		}
		return item, nil
	}

	err = Retry(ctx, p.config.RetryPolicy, func() error {
		return p.store.Create(ctx, *event)
	})
	if err != nil {
		p.cache.Forget(*event)
		p.logger.Warn("failed to insert event", "id", event.ID, "title", event.Title, "error", err)
		return itemFor(*event, OutcomeFailed, err), abortOn(err)
	}

	item := itemFor(*event, OutcomeInserted, nil)
	deleteAfter, err := p.retention.AssignRetention(ctx, event, false)
	if err != nil {
		// The assign sweep stamps it later.
		p.logger.Warn("retention assignment deferred", "id", event.ID, "error", err)
		return item, nil
	}
	item.DeleteAfter = &deleteAfter
	return item, nil
}

func (p *Pipeline) applyDefaults(event *models.Event, now time.Time) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = models.EventStatusActive
	}
	if event.ScrapedAt.IsZero() {
		event.ScrapedAt = now
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	// Retention is always computed here, never trusted from the scraper.
	event.DeleteAfter = nil
	event.DeletedAt = nil
	event.SourcePriority = ""
}

func (p *Pipeline) forgetRest(events []models.Event) {
	for _, event := range events {
		p.cache.Forget(event)
	}
}

// abortOn returns err when it should stop the batch.
func abortOn(err error) error {
	if apperr.Is(err, apperr.KindStoreUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func itemFor(event models.Event, outcome string, err error) ItemResult {
	item := ItemResult{
		ID:      event.ID,
		Title:   event.Title,
		Source:  event.Source,
		Outcome: outcome,
	}
	if err != nil {
		item.Error = err.Error()
	}
	return item
}

type nopMetrics struct{}

func (nopMetrics) DedupDecision(string) {}
