// Package cloudsql resolves the event store connection string for local
// development and for Cloud SQL on Cloud Run.
package cloudsql

import (
	"fmt"
	"net/url"

	"github.com/dxbevents/eventkeeper/internal/config"
)

// BuildDatabaseURL returns the PostgreSQL connection string for cfg.
//
// DATABASE_URL wins when set. Otherwise INSTANCE_CONNECTION_NAME selects the
// unix socket Cloud Run mounts at /cloudsql/<instance>, with DB_USER, DB_NAME
// and an optional DB_PASSWORD (IAM auth needs none). An empty result with a
// nil error means no database is configured.
func BuildDatabaseURL(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	if cfg.InstanceConnectionName == "" {
		return "", nil
	}

	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socketPath := socketPath(cfg.InstanceConnectionName)
	if cfg.Password != "" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			socketPath, cfg.User, cfg.Password, cfg.Name), nil
	}
	return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable",
		socketPath, cfg.User, cfg.Name), nil
}

// ConnectionSummary describes the connection for logging, without secrets.
func ConnectionSummary(cfg config.DatabaseConfig) map[string]string {
	summary := make(map[string]string)

	switch {
	case cfg.URL != "":
		summary["connection_type"] = "direct"
		summary["database_url"] = redactPassword(cfg.URL)
	case cfg.InstanceConnectionName != "":
		summary["connection_type"] = "cloud_sql"
		summary["instance"] = cfg.InstanceConnectionName
		summary["user"] = cfg.User
		summary["database"] = cfg.Name
		summary["socket_path"] = socketPath(cfg.InstanceConnectionName)
	default:
		summary["connection_type"] = "memory"
	}

	return summary
}

func socketPath(instance string) string {
	return fmt.Sprintf("/cloudsql/%s", instance)
}

// redactPassword masks the password of a postgres:// URL. Key/value DSNs are
// reduced to a marker since they may carry password=.
func redactPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.Scheme == "" {
		return "[redacted dsn]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
