// Package activity records an audit trail of lifecycle runs.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// Logger stores activity entries.
type Logger interface {
	Log(ctx context.Context, log models.ActivityLog) error
}

type triggerKey struct{}

const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// WithTrigger tags ctx with what started the run.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger stored in ctx, if any.
func TriggerFrom(ctx context.Context) string {
	trigger, _ := ctx.Value(triggerKey{}).(string)
	return trigger
}

// Recorder writes entries to a Logger. A nil Logger makes it a no-op, and
// write failures are logged but never returned.
type Recorder struct {
	logger Logger
	slog   *slog.Logger
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(logger Logger, log *slog.Logger) *Recorder {
	return &Recorder{logger: logger, slog: log}
}

// Record stores one entry for a completed run.
func (r *Recorder) Record(ctx context.Context, activityType models.ActivityType, message string, count int, duration time.Duration, details map[string]interface{}) {
	if r == nil || r.logger == nil {
		return
	}

	durationMs := int(duration.Milliseconds())
	entry := models.ActivityLog{
		ActivityType: activityType,
		Trigger:      TriggerFrom(ctx),
		Message:      message,
		Details:      details,
		EventCount:   &count,
		DurationMs:   &durationMs,
	}

	// The run already finished; recording must not be cut short by the
	// caller's deadline.
	if err := r.logger.Log(context.WithoutCancel(ctx), entry); err != nil && r.slog != nil {
		r.slog.Warn("failed to record activity", "activity_type", activityType, "error", err)
	}
}
