package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dxbevents/eventkeeper/internal/models"
	"github.com/dxbevents/eventkeeper/internal/similarity"
)

// Fingerprint is an exact-repeat key for an event listing.
type Fingerprint struct {
	Hash      string
	Source    string
	CreatedAt time.Time
}

// ComputeFingerprint hashes the normalized title, venue and start day. Two
// listings with the same fingerprint are exact repeats and need no fuzzy
// comparison.
func ComputeFingerprint(event models.Event) string {
	day := ""
	if event.StartDate != nil {
		day = event.StartDate.In(similarity.Dubai).Format("2006-01-02")
	}

	data := fmt.Sprintf("%s|%s|%s",
		similarity.Normalize(event.Title),
		similarity.Normalize(event.VenueName()),
		day,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// FingerprintCache remembers recently seen fingerprints for a time window.
type FingerprintCache struct {
	mu           sync.Mutex
	fingerprints map[string]Fingerprint
	window       time.Duration
	now          func() time.Time
}

// NewFingerprintCache creates a cache that forgets fingerprints older than
// window on Cleanup.
func NewFingerprintCache(window time.Duration) *FingerprintCache {
	return &FingerprintCache{
		fingerprints: make(map[string]Fingerprint),
		window:       window,
		now:          time.Now,
	}
}

// SeenOrMark reports whether event was seen before and records it if not.
func (c *FingerprintCache) SeenOrMark(event models.Event) bool {
	hash := ComputeFingerprint(event)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.fingerprints[hash]; exists {
		return true
	}
	c.fingerprints[hash] = Fingerprint{
		Hash:      hash,
		Source:    event.Source,
		CreatedAt: c.now(),
	}
	return false
}

// Forget drops event's fingerprint so a later retry is not filtered out.
func (c *FingerprintCache) Forget(event models.Event) {
	hash := ComputeFingerprint(event)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fingerprints, hash)
}

// Cleanup removes fingerprints older than the cache window.
func (c *FingerprintCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.window)
	removed := 0
	for hash, fp := range c.fingerprints {
		if fp.CreatedAt.Before(cutoff) {
			delete(c.fingerprints, hash)
			removed++
		}
	}
	return removed
}

// Size returns the number of fingerprints in the cache.
func (c *FingerprintCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fingerprints)
}

// FilterStats tracks exact-repeat filtering.
type FilterStats struct {
	TotalProcessed int     `json:"total_processed"`
	Duplicates     int     `json:"duplicates"`
	Unique         int     `json:"unique"`
	DuplicateRate  float64 `json:"duplicate_rate"`
}

// FingerprintFilter drops exact repeats before they reach the store.
type FingerprintFilter struct {
	cache *FingerprintCache
	mu    sync.Mutex
	stats FilterStats
}

// NewFingerprintFilter creates a filter over cache.
func NewFingerprintFilter(cache *FingerprintCache) *FingerprintFilter {
	return &FingerprintFilter{cache: cache}
}

// Filter returns the events whose fingerprint has not been seen, in order.
func (f *FingerprintFilter) Filter(events []models.Event) (unique, repeats []models.Event) {
	unique = make([]models.Event, 0, len(events))

	for _, event := range events {
		if f.cache.SeenOrMark(event) {
			repeats = append(repeats, event)
		} else {
			unique = append(unique, event)
		}
	}

	f.mu.Lock()
	f.stats.TotalProcessed += len(events)
	f.stats.Unique += len(unique)
	f.stats.Duplicates += len(repeats)
	if f.stats.TotalProcessed > 0 {
		f.stats.DuplicateRate = float64(f.stats.Duplicates) / float64(f.stats.TotalProcessed)
	}
	f.mu.Unlock()

	return unique, repeats
}

// GetStats returns the current filter statistics.
func (f *FingerprintFilter) GetStats() FilterStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// ResetStats clears the statistics counters.
func (f *FingerprintFilter) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = FilterStats{}
}
