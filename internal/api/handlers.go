// Package api exposes the lifecycle engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/dedup"
	"github.com/dxbevents/eventkeeper/internal/ingestion"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// Ingester runs scraped batches through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, events []models.Event) (ingestion.IngestResult, error)
}

// DuplicateChecker answers ad-hoc duplicate queries.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, event *models.Event) (bool, *dedup.Match, error)
}

// Handler serves the event endpoints.
type Handler struct {
	ingester Ingester
	dedup    DuplicateChecker
	logger   *slog.Logger
}

// NewHandler creates the event handler.
func NewHandler(ingester Ingester, dedup DuplicateChecker, logger *slog.Logger) *Handler {
	return &Handler{
		ingester: ingester,
		dedup:    dedup,
		logger:   logger,
	}
}

// IngestRequest is the body of POST /api/events/ingest.
type IngestRequest struct {
	Events []models.Event `json:"events"`
}

// IngestHandler handles POST /api/events/ingest
func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := ValidateIngestRequest(req); err != nil {
		writeError(w, h.logger, apperr.Validation("api.ingest", err))
		return
	}

	result, err := h.ingester.Ingest(withAPITrigger(r.Context()), req.Events)
	if err != nil {
		writePartial(w, h.logger, err, result)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// DuplicateResponse is the body of POST /api/events/check-duplicate.
type DuplicateResponse struct {
	Duplicate bool         `json:"duplicate"`
	Match     *dedup.Match `json:"match,omitempty"`
	Score     float64      `json:"score"`
}

// CheckDuplicateHandler handles POST /api/events/check-duplicate
func (h *Handler) CheckDuplicateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event models.Event
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, h.logger, err)
		return
	}

	duplicate, match, err := h.dedup.IsDuplicate(r.Context(), &event)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	response := DuplicateResponse{Duplicate: duplicate, Match: match}
	if match != nil {
		response.Score = match.Result.Score
	}
	writeJSON(w, h.logger, http.StatusOK, response)
}

const maxBodyBytes = 10 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("api.decode", errors.New("invalid request body: "+err.Error()))
	}
	return nil
}

// errorBody is the error payload every endpoint returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errorPayload(err error) errorBody {
	kind := apperr.KindOf(err)
	message := err.Error()
	if kind == apperr.KindInternal {
		// Internal details stay in the logs.
		message = "internal server error"
	}
	return errorBody{Error: errorDetail{Kind: kind, Message: message}}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "status", status)
	}
	writeJSON(w, logger, status, errorPayload(err))
}

// writePartial reports a run that stopped early together with what it got
// done before stopping.
func writePartial(w http.ResponseWriter, logger *slog.Logger, err error, partial interface{}) {
	status := statusFor(err)
	logger.Error("run aborted", "error", err, "status", status)
	writeJSON(w, logger, status, struct {
		errorBody
		Partial interface{} `json:"partial"`
	}{errorPayload(err), partial})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
