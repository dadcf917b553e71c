package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Retention RetentionConfig
	Schedule  ScheduleConfig
	Dedup     DedupConfig
	Health    HealthConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the event store connection settings. With neither a
// URL nor a Cloud SQL instance the service runs on the in-memory store.
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int

	// Cloud SQL over the Cloud Run unix socket
	InstanceConnectionName string
	User                   string
	Password               string
	Name                   string
}

// RetentionConfig tunes the retention manager.
type RetentionConfig struct {
	PolicyFile  string // optional YAML policy; built-in tiers when empty
	PageSize    int
	SettleDelay time.Duration
}

// ScheduleConfig holds cron expressions for the lifecycle jobs. An empty
// expression disables the job; set the variable to "off" for that.
type ScheduleConfig struct {
	Cleanup           string
	Assign            string
	Report            string
	JobTimeout        time.Duration
	ActivityRetention time.Duration // activity log entries older than this are pruned by the cleanup job
}

// DedupConfig tunes duplicate screening.
type DedupConfig struct {
	Threshold     float64
	WindowDays    int
	MaxCandidates int
}

// HealthConfig holds storage health thresholds and cost inputs.
type HealthConfig struct {
	MaxActiveEvents        int64
	CriticalActiveEvents   int64
	MaxMissingRetentionPct float64
	MaxOverdueEvents       int64
	CostPerGBMonth         float64
}

// AuthConfig protects the mutating admin endpoints.
type AuthConfig struct {
	JWTSecret    string
	PasswordHash string // bcrypt hash; preferred over Password
	Password     string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections     = 25
	defaultMaxIdleConnections = 5

	defaultPageSize    = 500
	defaultSettleDelay = 30 * time.Second

	defaultCleanupSchedule = "0 3 * * *"
	defaultAssignSchedule  = "*/30 * * * *"
	defaultReportSchedule  = "0 6 * * 1"
	defaultJobTimeout      = 30 * time.Minute

	defaultActivityRetentionDays = 90

	defaultDedupThreshold     = 0.85
	defaultDedupWindowDays    = 3
	defaultDedupMaxCandidates = 200

	defaultMaxActiveEvents      = 50000
	defaultCriticalActiveEvents = 100000
	defaultMaxMissingPct        = 5.0
	defaultMaxOverdueEvents     = 100
	defaultCostPerGBMonth       = 0.25
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided. Invalid values are an error.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:                    os.Getenv("DATABASE_URL"),
			MaxConnections:         defaultMaxConnections,
			MaxIdleConnections:     defaultMaxIdleConnections,
			InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
			User:                   os.Getenv("DB_USER"),
			Password:               os.Getenv("DB_PASSWORD"),
			Name:                   os.Getenv("DB_NAME"),
		},
		Retention: RetentionConfig{
			PolicyFile:  os.Getenv("RETENTION_POLICY_FILE"),
			PageSize:    defaultPageSize,
			SettleDelay: defaultSettleDelay,
		},
		Schedule: ScheduleConfig{
			Cleanup:           scheduleEnv("CLEANUP_SCHEDULE", defaultCleanupSchedule),
			Assign:            scheduleEnv("ASSIGN_SCHEDULE", defaultAssignSchedule),
			Report:            scheduleEnv("REPORT_SCHEDULE", defaultReportSchedule),
			JobTimeout:        defaultJobTimeout,
			ActivityRetention: defaultActivityRetentionDays * 24 * time.Hour,
		},
		Dedup: DedupConfig{
			Threshold:     defaultDedupThreshold,
			WindowDays:    defaultDedupWindowDays,
			MaxCandidates: defaultDedupMaxCandidates,
		},
		Health: HealthConfig{
			MaxActiveEvents:        defaultMaxActiveEvents,
			CriticalActiveEvents:   defaultCriticalActiveEvents,
			MaxMissingRetentionPct: defaultMaxMissingPct,
			MaxOverdueEvents:       defaultMaxOverdueEvents,
			CostPerGBMonth:         defaultCostPerGBMonth,
		},
		Auth: AuthConfig{
			JWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			Password:     os.Getenv("ADMIN_PASSWORD"),
		},
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"RETENTION_SETTLE_SECONDS", &cfg.Retention.SettleDelay},
		{"JOB_TIMEOUT_SECONDS", &cfg.Schedule.JobTimeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DB_MAX_CONNECTIONS", &cfg.Database.MaxConnections},
		{"DB_MAX_IDLE_CONNECTIONS", &cfg.Database.MaxIdleConnections},
		{"RETENTION_PAGE_SIZE", &cfg.Retention.PageSize},
		{"DEDUP_WINDOW_DAYS", &cfg.Dedup.WindowDays},
		{"DEDUP_MAX_CANDIDATES", &cfg.Dedup.MaxCandidates},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			parsed, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
			}
			*i.dst = parsed
		}
	}

	counts := []struct {
		key string
		dst *int64
	}{
		{"HEALTH_MAX_ACTIVE", &cfg.Health.MaxActiveEvents},
		{"HEALTH_CRITICAL_ACTIVE", &cfg.Health.CriticalActiveEvents},
		{"HEALTH_MAX_OVERDUE", &cfg.Health.MaxOverdueEvents},
	}
	for _, c := range counts {
		if v := os.Getenv(c.key); v != "" {
			parsed, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", c.key, err)
			}
			*c.dst = int64(parsed)
		}
	}

	if v := os.Getenv("ACTIVITY_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Config{}, fmt.Errorf("invalid ACTIVITY_RETENTION_DAYS: must be a non-negative integer")
		}
		cfg.Schedule.ActivityRetention = time.Duration(days) * 24 * time.Hour
	}

	if v := os.Getenv("DEDUP_THRESHOLD"); v != "" {
		threshold, err := parseFloat(v, 0, 1)
		if err != nil || threshold == 0 {
			return Config{}, fmt.Errorf("invalid DEDUP_THRESHOLD: must be in (0, 1]")
		}
		cfg.Dedup.Threshold = threshold
	}

	if v := os.Getenv("HEALTH_MAX_MISSING_PCT"); v != "" {
		pct, err := parseFloat(v, 0, 100)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HEALTH_MAX_MISSING_PCT: %w", err)
		}
		cfg.Health.MaxMissingRetentionPct = pct
	}

	if v := os.Getenv("STORAGE_COST_PER_GB"); v != "" {
		cost, err := parseFloat(v, 0, 1e6)
		if err != nil {
			return Config{}, fmt.Errorf("invalid STORAGE_COST_PER_GB: %w", err)
		}
		cfg.Health.CostPerGBMonth = cost
	}

	if cfg.Health.CriticalActiveEvents < cfg.Health.MaxActiveEvents {
		return Config{}, fmt.Errorf("invalid HEALTH_CRITICAL_ACTIVE: must not be below HEALTH_MAX_ACTIVE")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func parseFloat(raw string, min, max float64) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < min || f > max {
		return 0, fmt.Errorf("must be a number between %g and %g", min, max)
	}
	return f, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func scheduleEnv(key, fallback string) string {
	value := getEnv(key, fallback)
	if value == "off" {
		return ""
	}
	return value
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
