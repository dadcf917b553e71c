// Package scheduler runs the lifecycle sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dxbevents/eventkeeper/internal/activity"
	"github.com/dxbevents/eventkeeper/internal/logging"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// Job names.
const (
	JobAssignRetention = "assign_retention"
	JobDailyCleanup    = "daily_cleanup"
	JobWeeklyReport    = "weekly_report"
)

// RetentionJobs is the retention manager surface the scheduler drives.
type RetentionJobs interface {
	SetupAutomaticDeletion(ctx context.Context) (models.BatchResult, error)
	DailyCleanup(ctx context.Context) (models.CleanupResult, error)
	ExpirePastEvents(ctx context.Context) (models.BatchResult, error)
}

// ReportJobs is the health monitor surface the scheduler drives.
type ReportJobs interface {
	GenerateWeeklyReport(ctx context.Context, persist bool) (models.WeeklyReport, error)
}

// ActivityPruner trims old activity log entries.
type ActivityPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Config holds one cron expression per job. An empty expression disables
// that job.
type Config struct {
	Assign     string
	Cleanup    string
	Report     string
	JobTimeout time.Duration

	// ActivityRetention is how long activity entries survive the daily
	// cleanup. Zero keeps them forever.
	ActivityRetention time.Duration
}

// Scheduler owns the cron runner for the lifecycle jobs.
type Scheduler struct {
	retention RetentionJobs
	reports   ReportJobs
	pruner    ActivityPruner
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
}

// New creates a scheduler. Overlapping runs of the same job are skipped.
func New(retention RetentionJobs, reports ReportJobs, config Config, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}
	return &Scheduler{
		retention: retention,
		reports:   reports,
		config:    config,
		logger:    logger,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		entries:   make(map[string]cron.EntryID),
	}
}

// WithActivityPruner makes the cleanup job trim the activity log.
func (s *Scheduler) WithActivityPruner(pruner ActivityPruner) *Scheduler {
	s.pruner = pruner
	return s
}

func (s *Scheduler) schedules() map[string]string {
	return map[string]string{
		JobAssignRetention: s.config.Assign,
		JobDailyCleanup:    s.config.Cleanup,
		JobWeeklyReport:    s.config.Report,
	}
}

// Start registers every configured job and starts the cron runner. Jobs run
// under ctx, so cancelling it stops in-flight sweeps between pages.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	for name, spec := range s.schedules() {
		if spec == "" {
			s.logger.Info("job disabled", "job", name)
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron schedule %q for %s: %w", spec, name, err)
		}

		id, err := s.cron.AddFunc(spec, func() {
			if err := s.Run(ctx, name); err != nil {
				s.logger.Error("scheduled job failed", "job", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		s.entries[name] = id
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		"assign", s.config.Assign,
		"cleanup", s.config.Cleanup,
		"report", s.config.Report,
		"job_timeout", s.config.JobTimeout)
	return nil
}

// Stop stops the cron runner and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	done := s.cron.Stop()
	<-done.Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// NextRuns returns the next fire time of each registered job.
func (s *Scheduler) NextRuns() []JobSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := s.schedules()
	out := make([]JobSchedule, 0, len(s.entries))
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		out = append(out, JobSchedule{Job: name, Schedule: schedules[name], Next: entry.Next, Prev: entry.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// JobSchedule describes one registered job.
type JobSchedule struct {
	Job      string    `json:"job"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Run executes the named job once, bounded by the job timeout.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	ctx = activity.WithTrigger(ctx, activity.TriggerSchedule)

	log := logging.ForJob(s.logger, name, activity.TriggerSchedule)
	started := time.Now()
	log.Info("job started")

	var err error
	switch name {
	case JobAssignRetention:
		var result models.BatchResult
		result, err = s.retention.SetupAutomaticDeletion(ctx)
		log = log.With("updated", result.Updated, "failed", result.Failed)
	case JobDailyCleanup:
		err = s.cleanup(ctx, log)
	case JobWeeklyReport:
		var report models.WeeklyReport
		report, err = s.reports.GenerateWeeklyReport(ctx, true)
		log = log.With("report_id", report.ID, "status", report.Health.Status)
	default:
		return fmt.Errorf("unknown job %q", name)
	}

	if err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(started))
		return err
	}
	log.Info("job finished", "duration", time.Since(started))
	return nil
}

// cleanup soft-deletes expired events, marks finished ones expired, then
// trims the activity log. Each step still runs when an earlier one fails
// part-way, unless the context is done.
func (s *Scheduler) cleanup(ctx context.Context, log *slog.Logger) error {
	cleaned, cleanupErr := s.retention.DailyCleanup(ctx)
	log.Info("cleanup sweep done", "deleted", cleaned.Updated, "failed", cleaned.Failed)

	if ctx.Err() != nil {
		return errors.Join(cleanupErr, ctx.Err())
	}

	expired, expireErr := s.retention.ExpirePastEvents(ctx)
	log.Info("expiry sweep done", "updated", expired.Updated, "failed", expired.Failed)

	if s.pruner == nil || s.config.ActivityRetention <= 0 || ctx.Err() != nil {
		return errors.Join(cleanupErr, expireErr)
	}

	pruned, pruneErr := s.pruner.DeleteOlderThan(ctx, s.config.ActivityRetention)
	if pruneErr != nil {
		log.Warn("activity log prune failed", "error", pruneErr)
	} else {
		log.Info("activity log pruned", "deleted", pruned)
	}

	return errors.Join(cleanupErr, expireErr, pruneErr)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
