// Package dedup screens incoming events against stored ones before insert.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

// Store is the subset of the event store the deduplicator needs.
type Store interface {
	FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Event, error)
	MergeFields(ctx context.Context, id string, patch models.MergePatch) (bool, error)
}

// Config holds deduplication tuning.
type Config struct {
	Threshold       float64       // title similarity threshold
	CandidateWindow time.Duration // +/- around the incoming start date
	PrefixLength    int           // normalized title prefix used for candidate lookup
	MaxCandidates   int           // hard cap on candidates per lookup
	MergeOnMatch    bool          // merge missing fields into the stored event
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       similarity.DefaultThreshold,
		CandidateWindow: 3 * 24 * time.Hour,
		PrefixLength:    12,
		MaxCandidates:   200,
		MergeOnMatch:    true,
	}
}

// Decision is the outcome of screening an incoming event.
type Decision string

const (
	DecisionInsert   Decision = "insert"   // no duplicate, caller should persist
	DecisionMerged   Decision = "merged"   // duplicate, stored event gained fields
	DecisionRejected Decision = "rejected" // duplicate, nothing new to keep
)

// Match is the best duplicate found for an incoming event.
type Match struct {
	Event  models.Event      `json:"event"`
	Result similarity.Result `json:"result"`
}

// ScreenResult reports what Screen decided.
type ScreenResult struct {
	Decision   Decision `json:"decision"`
	Match      *Match   `json:"match,omitempty"`
	Candidates int      `json:"candidates"`
}

// Deduplicator decides whether an incoming event duplicates a stored one.
type Deduplicator struct {
	store  Store
	scorer *similarity.Scorer
	config Config
	logger *slog.Logger
}

// New creates a deduplicator backed by store.
func New(store Store, config Config, logger *slog.Logger) *Deduplicator {
	if config.CandidateWindow <= 0 {
		config.CandidateWindow = DefaultConfig().CandidateWindow
	}
	if config.PrefixLength <= 0 {
		config.PrefixLength = DefaultConfig().PrefixLength
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultConfig().MaxCandidates
	}
	return &Deduplicator{
		store:  store,
		scorer: similarity.NewScorer(config.Threshold, similarity.Dubai),
		config: config,
		logger: logger.With("component", "dedup"),
	}
}

// Scorer exposes the similarity scorer in use.
func (d *Deduplicator) Scorer() *similarity.Scorer {
	return d.scorer
}

// FindCandidates returns the bounded set of stored events worth comparing
// with event. Store failures are returned as is; they are never treated as
// an empty result.
func (d *Deduplicator) FindCandidates(ctx context.Context, event *models.Event) ([]models.Event, error) {
	q := models.CandidateQuery{
		ExcludeID:   event.ID,
		Source:      event.Source,
		TitlePrefix: similarity.Prefix(event.Title, d.config.PrefixLength),
		Limit:       d.config.MaxCandidates,
	}
	if event.StartDate != nil {
		start := event.StartDate.Add(-d.config.CandidateWindow)
		end := event.StartDate.Add(d.config.CandidateWindow)
		q.WindowStart = &start
		q.WindowEnd = &end
		q.Anchor = event.StartDate
	}

	candidates, err := d.store.FindCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate candidates: %w", err)
	}
	return candidates, nil
}

// IsDuplicate reports whether event duplicates a stored event and returns
// the highest scoring match.
func (d *Deduplicator) IsDuplicate(ctx context.Context, event *models.Event) (bool, *Match, error) {
	match, _, err := d.bestMatch(ctx, event)
	if err != nil {
		return false, nil, err
	}
	return match != nil, match, nil
}

func (d *Deduplicator) bestMatch(ctx context.Context, event *models.Event) (*Match, int, error) {
	if err := event.Validate(); err != nil {
		return nil, 0, apperr.Validation("dedup.is_duplicate", err)
	}

	candidates, err := d.FindCandidates(ctx, event)
	if err != nil {
		return nil, 0, err
	}

	var best *Match
	for i := range candidates {
		result := d.scorer.Compare(event, &candidates[i])
		if !result.IsDuplicate() {
			continue
		}
		if best == nil || result.Score > best.Result.Score {
			best = &Match{Event: candidates[i], Result: result}
		}
	}
	return best, len(candidates), nil
}

// MergeInto copies fields that existing lacks from incoming. Existing
// non-empty fields are never overwritten. It reports whether the stored
// event changed.
func (d *Deduplicator) MergeInto(ctx context.Context, existing, incoming *models.Event) (bool, error) {
	patch := mergePatch(existing, incoming)
	if patch.IsEmpty() {
		return false, nil
	}

	changed, err := d.store.MergeFields(ctx, existing.ID, patch)
	if err != nil {
		return false, fmt.Errorf("failed to merge into %s: %w", existing.ID, err)
	}
	if changed {
		d.logger.Debug("merged duplicate into existing event",
			"existing_id", existing.ID,
			"incoming_source", incoming.Source)
	}
	return changed, nil
}

// mergePatch lists the fields incoming can contribute to existing.
func mergePatch(existing, incoming *models.Event) models.MergePatch {
	var patch models.MergePatch
	if existing.Description == "" {
		patch.Description = incoming.Description
	}
	if existing.Category == "" {
		patch.Category = incoming.Category
	}
	if existing.ImageURL == "" {
		patch.ImageURL = incoming.ImageURL
	}
	if existing.TicketURL == "" {
		patch.TicketURL = incoming.TicketURL
	}
	if incoming.Venue != nil {
		if existing.VenueName() == "" {
			patch.VenueName = incoming.Venue.Name
		}
		if existing.Venue == nil || existing.Venue.Area == "" {
			patch.VenueArea = incoming.Venue.Area
		}
	}
	if existing.EndDate == nil && incoming.EndDate != nil {
		end := *incoming.EndDate
		patch.EndDate = &end
	}
	return patch
}

// Screen runs the full duplicate check for an incoming event. A duplicate is
// never inserted; when merging is enabled its missing fields flow into the
// stored event first.
func (d *Deduplicator) Screen(ctx context.Context, event *models.Event) (ScreenResult, error) {
	match, candidates, err := d.bestMatch(ctx, event)
	if err != nil {
		return ScreenResult{}, err
	}

	result := ScreenResult{Decision: DecisionInsert, Candidates: candidates}
	if match == nil {
		return result, nil
	}

	result.Match = match
	result.Decision = DecisionRejected
	if d.config.MergeOnMatch {
		merged, err := d.MergeInto(ctx, &match.Event, event)
		if err != nil {
			return ScreenResult{}, err
		}
		if merged {
			result.Decision = DecisionMerged
		}
	}

	d.logger.Info("duplicate event screened",
		"title", event.Title,
		"source", event.Source,
		"existing_id", match.Event.ID,
		"score", match.Result.Score,
		"decision", result.Decision)
	return result, nil
}
