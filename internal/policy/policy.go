// Package policy holds the immutable source → priority tier → retention
// window table used by the retention manager and the health monitor.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/models"
)

// Tier is one priority level of the retention policy.
type Tier struct {
	Priority      models.Priority `yaml:"priority" json:"priority"`
	RetentionDays int             `yaml:"retention_days" json:"retention_days"`
	Sources       []string        `yaml:"sources" json:"sources"`
}

// Table maps source names to retention tiers. It is safe for concurrent use
// because it is never mutated after New returns.
type Table struct {
	tiers    []Tier // sorted by retention, longest first
	bySource map[string]int
	fallback int
}

// New validates tiers and builds a Table. Overlapping sources, repeated
// priorities and non-positive retention windows are configuration errors.
func New(tiers []Tier) (*Table, error) {
	const op = "policy.new"

	if len(tiers) == 0 {
		return nil, apperr.Configuration(op, "at least one retention tier is required")
	}

	sorted := make([]Tier, len(tiers))
	for i, tier := range tiers {
		sorted[i] = Tier{
			Priority:      tier.Priority,
			RetentionDays: tier.RetentionDays,
			Sources:       append([]string(nil), tier.Sources...),
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RetentionDays > sorted[j].RetentionDays
	})

	table := &Table{
		tiers:    sorted,
		bySource: make(map[string]int),
	}

	seenPriority := make(map[models.Priority]bool, len(sorted))
	for i, tier := range sorted {
		if !tier.Priority.Valid() {
			return nil, apperr.Configuration(op, fmt.Sprintf("unknown priority %q", tier.Priority))
		}
		if seenPriority[tier.Priority] {
			return nil, apperr.Configuration(op, fmt.Sprintf("priority %q configured twice", tier.Priority))
		}
		seenPriority[tier.Priority] = true

		if tier.RetentionDays <= 0 {
			return nil, apperr.Configuration(op, fmt.Sprintf("tier %q: retention_days must be positive", tier.Priority))
		}

		for _, source := range tier.Sources {
			key := normalizeSource(source)
			if key == "" {
				return nil, apperr.Configuration(op, fmt.Sprintf("tier %q: empty source name", tier.Priority))
			}
			if other, exists := table.bySource[key]; exists {
				return nil, apperr.Configuration(op, fmt.Sprintf("source %q claimed by both %q and %q",
					key, sorted[other].Priority, tier.Priority))
			}
			table.bySource[key] = i
		}
	}

	// Unknown sources fall back to the shortest window.
	table.fallback = len(sorted) - 1

	return table, nil
}

// Default returns the production policy: 7/3/1 days for high/medium/low.
func Default() *Table {
	table, err := New(DefaultTiers())
	if err != nil {
		panic(fmt.Sprintf("default retention policy is invalid: %v", err))
	}
	return table
}

// DefaultTiers returns the built-in tier configuration.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Priority:      models.PriorityHigh,
			RetentionDays: 7,
			Sources:       []string{"platinumlist", "timeout_dubai", "whats_on_dubai", "visit_dubai", "dubai_calendar"},
		},
		{
			Priority:      models.PriorityMedium,
			RetentionDays: 3,
			Sources:       []string{"perplexity_ai", "openai_sync", "webhook", "eventbrite", "meetup"},
		},
		{
			Priority:      models.PriorityLow,
			RetentionDays: 1,
			Sources:       []string{"scraper_generic", "manual_import", "firecrawl", "unknown"},
		},
	}
}

type fileFormat struct {
	Tiers []Tier `yaml:"tiers"`
}

// LoadFile reads a YAML policy file of the form
//
//	tiers:
//	  - priority: high
//	    retention_days: 7
//	    sources: [timeout_dubai, platinumlist]
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read retention policy %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindConfiguration, Op: "policy.parse", Message: "invalid retention policy", Err: err}
	}
	return New(f.Tiers)
}

// Lookup returns the tier that claims source. Unknown sources get the tier
// with the shortest retention window.
func (t *Table) Lookup(source string) Tier {
	if i, ok := t.bySource[normalizeSource(source)]; ok {
		return t.tiers[i]
	}
	return t.tiers[t.fallback]
}

// Claims reports whether source is explicitly listed by some tier.
func (t *Table) Claims(source string) bool {
	_, ok := t.bySource[normalizeSource(source)]
	return ok
}

// RetentionDays returns the window for a priority, or the fallback window
// when the priority is not configured.
func (t *Table) RetentionDays(p models.Priority) int {
	for _, tier := range t.tiers {
		if tier.Priority == p {
			return tier.RetentionDays
		}
	}
	return t.tiers[t.fallback].RetentionDays
}

// Fallback returns the tier used for unrecognised sources.
func (t *Table) Fallback() Tier {
	return t.tiers[t.fallback]
}

// Tiers returns a copy of the configured tiers, longest retention first.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	for i, tier := range t.tiers {
		out[i] = tier
		out[i].Sources = append([]string(nil), tier.Sources...)
	}
	return out
}

// Sources returns every explicitly configured source name, sorted.
func (t *Table) Sources() []string {
	out := make([]string, 0, len(t.bySource))
	for source := range t.bySource {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// RetentionByPriority returns the window of every configured tier.
func (t *Table) RetentionByPriority() map[models.Priority]int {
	out := make(map[models.Priority]int, len(t.tiers))
	for _, tier := range t.tiers {
		out[tier.Priority] = tier.RetentionDays
	}
	return out
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
