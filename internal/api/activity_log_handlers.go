package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// ActivityLister reads the lifecycle audit trail.
type ActivityLister interface {
	List(ctx context.Context, limit int, activityType string) ([]models.ActivityLog, error)
}

type ActivityLogHandlers struct {
	repo   ActivityLister
	logger *slog.Logger
}

func NewActivityLogHandlers(repo ActivityLister, logger *slog.Logger) *ActivityLogHandlers {
	return &ActivityLogHandlers{
		repo:   repo,
		logger: logger,
	}
}

// ListActivities handles GET /api/lifecycle/activity
func (h *ActivityLogHandlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 100)
	activityType := r.URL.Query().Get("activity_type")
	if err := ValidateActivityType(activityType); err != nil {
		writeError(w, h.logger, apperr.Validation("api.list_activity", err))
		return
	}

	logs, err := h.repo.List(r.Context(), limit, activityType)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
