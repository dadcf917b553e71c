package models

import (
	"time"
)

// CandidateQuery bounds the set of stored events a new event is compared
// against during duplicate screening.
type CandidateQuery struct {
	ExcludeID   string
	Source      string
	TitlePrefix string     // normalized title prefix
	WindowStart *time.Time // start_date lower bound (inclusive)
	WindowEnd   *time.Time // start_date upper bound (inclusive)
	Anchor      *time.Time // incoming start date; nearer candidates rank first
	Limit       int
}

// MergePatch carries the fields a duplicate may contribute to an existing
// event. Stores apply each field only where the stored value is empty.
type MergePatch struct {
	Description string
	Category    string
	ImageURL    string
	TicketURL   string
	VenueName   string
	VenueArea   string
	EndDate     *time.Time
}

// IsEmpty reports whether the patch carries nothing to merge.
func (p MergePatch) IsEmpty() bool {
	return p.Description == "" && p.Category == "" && p.ImageURL == "" &&
		p.TicketURL == "" && p.VenueName == "" && p.VenueArea == "" && p.EndDate == nil
}

// PageQuery selects one keyset page of events for a sweep.
type PageQuery struct {
	AfterID string
	Limit   int
	Before  time.Time // meaning depends on the listing, e.g. created_at or delete_after cutoff
}

// EventRef is the minimal identity of an event touched by a bulk update.
type EventRef struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Priority Priority `json:"source_priority"`
}
