package models

import (
	"strings"
	"time"
)

// Event is a single listing in the events collection, carrying the fields the
// retention and deduplication engines act on.
type Event struct {
	ID             string      `json:"id"`
	Source         string      `json:"source"`
	SourcePriority Priority    `json:"source_priority,omitempty"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Category       string      `json:"category,omitempty"`
	Venue          *Venue      `json:"venue,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	TicketURL      string      `json:"ticket_url,omitempty"`
	StartDate      *time.Time  `json:"start_date,omitempty"`
	EndDate        *time.Time  `json:"end_date,omitempty"`
	ScrapedAt      time.Time   `json:"scraped_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Status         EventStatus `json:"status"`
	DeleteAfter    *time.Time  `json:"delete_after,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	RetentionDays  *int        `json:"retention_days,omitempty"` // explicit override of the tier default
}

// Venue is the optional place information attached to an event.
type Venue struct {
	Name string `json:"name,omitempty"`
	Area string `json:"area,omitempty"`
}

// EventStatus represents the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive    EventStatus = "active"
	EventStatusCancelled EventStatus = "cancelled" // set externally, terminal
	EventStatusExpired   EventStatus = "expired"   // event has finished, still retained
	EventStatusDeleted   EventStatus = "deleted"   // soft-deleted by the cleanup sweep
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusActive, EventStatusCancelled, EventStatusExpired, EventStatusDeleted:
		return true
	}
	return false
}

// AllStatuses lists every lifecycle status in display order.
func AllStatuses() []EventStatus {
	return []EventStatus{EventStatusActive, EventStatusExpired, EventStatusCancelled, EventStatusDeleted}
}

// Priority is the retention tier an event's source belongs to.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// AllPriorities lists every priority from highest to lowest.
func AllPriorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// VenueName returns the venue name or an empty string when no venue is set.
func (e *Event) VenueName() string {
	if e.Venue == nil {
		return ""
	}
	return e.Venue.Name
}

// RetentionAnchor is the later of the ingestion timestamp and the start date.
// Retention windows are measured from this instant.
func (e *Event) RetentionAnchor() time.Time {
	anchor := e.ScrapedAt
	if anchor.IsZero() {
		anchor = e.CreatedAt
	}
	if e.StartDate != nil && e.StartDate.After(anchor) {
		anchor = *e.StartDate
	}
	return anchor
}

// HasEnded reports whether the event finished before now. Events without an
// end date are considered finished once their start day has passed.
func (e *Event) HasEnded(now time.Time) bool {
	if e.EndDate != nil {
		return e.EndDate.Before(now)
	}
	if e.StartDate != nil {
		return e.StartDate.Add(24 * time.Hour).Before(now)
	}
	return false
}

// IsOverdue reports whether the event is past its delete_after and still
// waiting for cleanup. Expired events count: expiry does not end retention.
func (e *Event) IsOverdue(now time.Time) bool {
	if e.Status != EventStatusActive && e.Status != EventStatusExpired {
		return false
	}
	return e.DeleteAfter != nil && !e.DeleteAfter.After(now)
}

// Validate checks the fields every event must carry before it reaches the
// retention or deduplication engines.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &FieldError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(e.Source) == "" {
		return &FieldError{Field: "source", Reason: "is required"}
	}
	if e.ScrapedAt.IsZero() && e.CreatedAt.IsZero() {
		return &FieldError{Field: "scraped_at", Reason: "is required"}
	}
	if e.StartDate != nil && e.EndDate != nil && e.EndDate.Before(*e.StartDate) {
		return &FieldError{Field: "end_date", Reason: "is before start_date"}
	}
	if e.RetentionDays != nil && *e.RetentionDays <= 0 {
		return &FieldError{Field: "retention_days", Reason: "must be positive"}
	}
	if e.Status != "" && !e.Status.Valid() {
		return &FieldError{Field: "status", Reason: "is not a known status"}
	}
	return nil
}

// FieldError describes a single malformed field on an event record.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}
