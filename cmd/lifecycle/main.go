// Command lifecycle runs one retention or reporting job and exits, for
// deployments that trigger jobs externally (Cloud Scheduler hitting a Cloud
// Run job) and set the server's *_SCHEDULE variables to off.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dxbevents/eventkeeper/internal/app"
	"github.com/dxbevents/eventkeeper/internal/config"
	"github.com/dxbevents/eventkeeper/internal/logging"
	"github.com/dxbevents/eventkeeper/internal/scheduler"
)

func main() {
	job := flag.String("job", "", fmt.Sprintf("job to run: %s, %s or %s",
		scheduler.JobAssignRetention, scheduler.JobDailyCleanup, scheduler.JobWeeklyReport))
	list := flag.Bool("list", false, "print the configured schedules and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if *job == "" && !*list {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *list {
		if err := a.Scheduler.Start(ctx); err != nil {
			logger.Error("invalid schedule", "error", err)
			os.Exit(1)
		}
		runs := a.Scheduler.NextRuns()
		a.Scheduler.Stop()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runs)
		return
	}

	if err := a.Scheduler.Run(ctx, *job); err != nil {
		// deferred Close does not run past os.Exit
		a.Close()
		os.Exit(1)
	}
}
