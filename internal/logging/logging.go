package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dxbevents/eventkeeper/internal/config"
)

// ServiceName is attached to every record emitted by loggers from New.
const ServiceName = "eventkeeper"

// New constructs a slog.Logger writing to stdout according to cfg.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	handler, err := buildHandler(cfg, w)
	if err != nil {
		return nil, err
	}

	return slog.New(handler).With("service", ServiceName), nil
}

// ForJob scopes a logger to one lifecycle job run.
func ForJob(logger *slog.Logger, job, trigger string) *slog.Logger {
	return logger.With("job", job, "trigger", trigger)
}

func buildHandler(cfg config.LoggingConfig, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
