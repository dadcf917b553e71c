package api

import (
	"fmt"
	"strings"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// MaxIngestBatch caps a single ingest request.
const MaxIngestBatch = 5000

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateIngestRequest checks the batch envelope. Individual events are
// validated by the pipeline so one bad record does not reject the batch.
func ValidateIngestRequest(req IngestRequest) error {
	if len(req.Events) == 0 {
		return ValidationError{Field: "events", Message: "at least one event is required"}
	}
	if len(req.Events) > MaxIngestBatch {
		return ValidationError{Field: "events", Message: fmt.Sprintf("batch exceeds %d events", MaxIngestBatch)}
	}

	seen := make(map[string]int, len(req.Events))
	for i, event := range req.Events {
		id := strings.TrimSpace(event.ID)
		if id == "" {
			continue
		}
		if j, dup := seen[id]; dup {
			return ValidationError{
				Field:   fmt.Sprintf("events[%d].id", i),
				Message: fmt.Sprintf("repeats the id of events[%d]", j),
			}
		}
		seen[id] = i
	}
	return nil
}

// ValidateActivityType accepts an empty filter or a known activity type.
func ValidateActivityType(raw string) error {
	if raw == "" {
		return nil
	}
	for _, t := range models.AllActivityTypes() {
		if string(t) == raw {
			return nil
		}
	}
	return ValidationError{Field: "activity_type", Message: "is not a known activity type"}
}
