// Package similarity scores how alike two event listings are and decides
// whether they describe the same event.
package similarity

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/dxbevents/eventkeeper/internal/models"
)

// DefaultThreshold is the minimum title similarity for a duplicate verdict.
const DefaultThreshold = 0.85

// minContainedWords is the shortest title that may count as contained in a
// longer one. Single words ("Brunch") are too generic.
const minContainedWords = 2

// Verdict is the outcome of comparing two events.
type Verdict string

const (
	VerdictDuplicate Verdict = "duplicate"
	VerdictDistinct  Verdict = "distinct"
)

// Result is a scored comparison between two events.
type Result struct {
	Score        float64 `json:"score"`
	Verdict      Verdict `json:"verdict"`
	VenueMatch   bool    `json:"venue_match"`
	SameDay      bool    `json:"same_day"`
	Corroborated bool    `json:"corroborated"`
}

// IsDuplicate reports whether the verdict is duplicate.
func (r Result) IsDuplicate() bool {
	return r.Verdict == VerdictDuplicate
}

// Scorer compares events. The zero value is not usable; use NewScorer.
type Scorer struct {
	threshold float64
	loc       *time.Location
}

// Dubai is UTC+4 with no daylight saving, so a fixed zone avoids depending on
// the host tz database.
var Dubai = time.FixedZone("GST", 4*60*60)

// NewScorer returns a scorer with the given title threshold. Calendar days are
// evaluated in loc; a nil loc means Dubai time.
func NewScorer(threshold float64, loc *time.Location) *Scorer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if loc == nil {
		loc = Dubai
	}
	return &Scorer{threshold: threshold, loc: loc}
}

// Threshold returns the title similarity threshold.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Compare scores a against b. It is symmetric and has no side effects.
//
// A pair is a duplicate when the title score reaches the threshold and the
// pair is corroborated: venues match, or start dates fall on the same day.
// When neither venues nor dates are known on both sides, nothing contradicts
// the title and it decides alone.
func (s *Scorer) Compare(a, b *models.Event) Result {
	if a == nil || b == nil {
		return Result{Verdict: VerdictDistinct}
	}

	result := Result{
		Score:   TitleSimilarity(a.Title, b.Title),
		Verdict: VerdictDistinct,
	}
	if result.Score == 0 {
		return result
	}

	venueA, venueB := Normalize(a.VenueName()), Normalize(b.VenueName())
	venueKnown := venueA != "" && venueB != ""
	result.VenueMatch = venueKnown && (venueA == venueB || containsWords(venueA, venueB) || containsWords(venueB, venueA))

	dateKnown := a.StartDate != nil && b.StartDate != nil
	result.SameDay = dateKnown && s.sameDay(*a.StartDate, *b.StartDate)

	result.Corroborated = result.VenueMatch || result.SameDay || (!venueKnown && !dateKnown)

	if result.Score >= s.threshold && result.Corroborated {
		result.Verdict = VerdictDuplicate
	}
	return result
}

func (s *Scorer) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(s.loc).Date()
	by, bm, bd := b.In(s.loc).Date()
	return ay == by && am == bm && ad == bd
}

// TitleSimilarity returns a symmetric similarity in [0,1] between two titles.
// Titles are normalized first, so case, punctuation and spacing never lower
// the score. Empty titles score 0.
func TitleSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	score := editRatio(na, nb)
	if c := containmentScore(na, nb); c > score {
		score = c
	}
	return score
}

// editRatio is 1 - levenshtein(a, b) / max(len(a), len(b)), over runes.
func editRatio(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// containmentScore rewards a title that extends another one word for word
// ("La Perle by Dragone" → "La Perle by Dragone at Al Habtoor City").
// The score starts at DefaultThreshold and grows with the covered share.
func containmentScore(a, b string) float64 {
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if short == long || len(strings.Fields(short)) < minContainedWords {
		return 0
	}
	if !containsWords(long, short) {
		return 0
	}
	coverage := float64(utf8.RuneCountInString(short)) / float64(utf8.RuneCountInString(long))
	return DefaultThreshold + (1-DefaultThreshold)*coverage
}

// containsWords reports whether needle occurs in haystack on word boundaries.
func containsWords(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// Normalize lowercases s, drops apostrophes, turns other punctuation into
// spaces and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			// "Shreya's" and "Shreyas" normalize identically
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Prefix returns the first n runes of the normalized title.
func Prefix(title string, n int) string {
	normalized := Normalize(title)
	if n <= 0 {
		return normalized
	}
	runes := []rune(normalized)
	if len(runes) <= n {
		return normalized
	}
	return strings.TrimSpace(string(runes[:n]))
}
