package similarity

import (
	"math"
	"testing"
	"time"

	"github.com/dxbevents/eventkeeper/internal/models"
)

func day(y int, m time.Month, d, h int) *time.Time {
	t := time.Date(y, m, d, h, 0, 0, 0, Dubai)
	return &t
}

func event(title, venue string, start *time.Time) *models.Event {
	e := &models.Event{Title: title, StartDate: start}
	if venue != "" {
		e.Venue = &models.Venue{Name: venue}
	}
	return e
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{input: "Shreya Ghoshal Live in Dubai", want: "shreya ghoshal live in dubai"},
		{input: "  Shreya   Ghoshal\tLive In DUBAI!! ", want: "shreya ghoshal live in dubai"},
		{input: "Coca-Cola Arena", want: "coca cola arena"},
		{input: "Ladies' Night @ Zuma", want: "ladies night zuma"},
		{input: "...", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		min, max float64
	}{
		{name: "identical", a: "Shreya Ghoshal Live in Dubai", b: "Shreya Ghoshal Live in Dubai", min: 1, max: 1},
		{name: "case only", a: "Shreya Ghoshal Live in Dubai", b: "Shreya Ghoshal Live In Dubai", min: 1, max: 1},
		{name: "whitespace and punctuation", a: "Shreya Ghoshal: Live in Dubai", b: "shreya  ghoshal live in dubai", min: 1, max: 1},
		{name: "typo", a: "Shreya Ghoshal Live in Dubai", b: "Shreya Ghoshal Live in Dubay", min: 0.95, max: 0.99},
		{name: "extension", a: "La Perle by Dragone", b: "La Perle by Dragone at Al Habtoor City", min: 0.85, max: 0.99},
		{name: "different", a: "Completely Different Event", b: "Another Totally Different Show", min: 0, max: 0.6},
		{name: "same frame different act", a: "Dubai Jazz Festival", b: "Dubai Food Festival", min: 0.5, max: 0.84},
		{name: "single word not contained", a: "Brunch", b: "Friday Brunch at Atlantis", min: 0, max: 0.5},
		{name: "empty", a: "", b: "Ladies Night", min: 0, max: 0},
		{name: "punctuation only", a: "!!!", b: "!!!", min: 0, max: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleSimilarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("TitleSimilarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestTitleSimilarityIsSymmetric(t *testing.T) {
	titles := []string{
		"Shreya Ghoshal Live in Dubai",
		"Shreya Ghoshal Live In Dubai",
		"La Perle by Dragone",
		"La Perle by Dragone at Al Habtoor City",
		"Completely Different Event",
		"Another Totally Different Show",
		"Ladies Night",
		"Ladies Night at Zuma",
		"Dubai Jazz Festival",
		"دبي مهرجان",
		"",
	}

	for _, a := range titles {
		for _, b := range titles {
			ab := TitleSimilarity(a, b)
			ba := TitleSimilarity(b, a)
			if ab != ba {
				t.Errorf("similarity(%q, %q) = %v but similarity(%q, %q) = %v", a, b, ab, b, a, ba)
			}
			if ab < 0 || ab > 1 || math.IsNaN(ab) {
				t.Errorf("similarity(%q, %q) = %v out of range", a, b, ab)
			}
		}
	}
}

func TestScorerCompare(t *testing.T) {
	scorer := NewScorer(DefaultThreshold, nil)

	tests := []struct {
		name string
		a, b *models.Event
		want Verdict
	}{
		{
			name: "identical concert",
			a:    event("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", day(2025, 3, 1, 20)),
			b:    event("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", day(2025, 3, 1, 20)),
			want: VerdictDuplicate,
		},
		{
			name: "case difference same venue",
			a:    event("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", day(2025, 3, 1, 20)),
			b:    event("SHREYA GHOSHAL live in dubai", "coca cola arena", nil),
			want: VerdictDuplicate,
		},
		{
			name: "same day different hour, no venue",
			a:    event("Shreya Ghoshal Live in Dubai", "", day(2025, 3, 1, 9)),
			b:    event("Shreya Ghoshal Live in Dubai", "", day(2025, 3, 1, 22)),
			want: VerdictDuplicate,
		},
		{
			name: "title extension without context",
			a:    event("La Perle by Dragone", "", nil),
			b:    event("La Perle by Dragone at Al Habtoor City", "", nil),
			want: VerdictDuplicate,
		},
		{
			name: "different titles",
			a:    event("Completely Different Event", "", nil),
			b:    event("Another Totally Different Show", "", nil),
			want: VerdictDistinct,
		},
		{
			name: "generic title, different venue and day",
			a:    event("Ladies Night", "Zuma", day(2025, 3, 5, 20)),
			b:    event("Ladies Night", "Cove Beach", day(2025, 3, 6, 20)),
			want: VerdictDistinct,
		},
		{
			name: "generic title, different venue, no dates",
			a:    event("Ladies Night", "Zuma", nil),
			b:    event("Ladies Night", "Cove Beach", nil),
			want: VerdictDistinct,
		},
		{
			name: "below threshold despite same venue and day",
			a:    event("Dubai Jazz Festival", "Media City Amphitheatre", day(2025, 2, 14, 18)),
			b:    event("Dubai Food Festival", "Media City Amphitheatre", day(2025, 2, 14, 18)),
			want: VerdictDistinct,
		},
		{
			name: "missing title",
			a:    event("", "Coca-Cola Arena", day(2025, 3, 1, 20)),
			b:    event("", "Coca-Cola Arena", day(2025, 3, 1, 20)),
			want: VerdictDistinct,
		},
		{
			name: "nil record",
			a:    nil,
			b:    event("Ladies Night", "", nil),
			want: VerdictDistinct,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Compare(tt.a, tt.b)
			if got.Verdict != tt.want {
				t.Errorf("Compare() verdict = %q (score %.3f, venue %v, sameDay %v), want %q",
					got.Verdict, got.Score, got.VenueMatch, got.SameDay, tt.want)
			}

			reverse := scorer.Compare(tt.b, tt.a)
			if reverse != got {
				t.Errorf("Compare() not symmetric: %+v vs %+v", got, reverse)
			}
		})
	}
}

func TestScorerSameDayUsesDubaiCalendar(t *testing.T) {
	scorer := NewScorer(DefaultThreshold, nil)

	// 21:30 UTC on 28 Feb is 01:30 on 1 Mar in Dubai.
	lateUTC := time.Date(2025, 2, 28, 21, 30, 0, 0, time.UTC)
	morning := time.Date(2025, 3, 1, 10, 0, 0, 0, Dubai)

	got := scorer.Compare(
		event("Shreya Ghoshal Live in Dubai", "", &lateUTC),
		event("Shreya Ghoshal Live in Dubai", "", &morning),
	)
	if !got.SameDay {
		t.Fatal("expected dates to fall on the same Dubai day")
	}
}

func TestNewScorerClampsThreshold(t *testing.T) {
	if got := NewScorer(0, nil).Threshold(); got != DefaultThreshold {
		t.Errorf("threshold = %v, want default", got)
	}
	if got := NewScorer(1.5, nil).Threshold(); got != DefaultThreshold {
		t.Errorf("threshold = %v, want default", got)
	}
	if got := NewScorer(0.9, nil).Threshold(); got != 0.9 {
		t.Errorf("threshold = %v, want 0.9", got)
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix("Shreya Ghoshal Live in Dubai", 12); got != "shreya ghosh" {
		t.Errorf("Prefix = %q", got)
	}
	if got := Prefix("Jazz", 12); got != "jazz" {
		t.Errorf("Prefix = %q", got)
	}
}
