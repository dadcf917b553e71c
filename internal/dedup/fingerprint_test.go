package dedup

import (
	"testing"
	"time"

	"github.com/dxbevents/eventkeeper/internal/models"
)

func TestComputeFingerprint(t *testing.T) {
	start := concertStart
	sameDayLater := concertStart.Add(2 * time.Hour)
	nextDay := concertStart.Add(24 * time.Hour)

	base := *incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start)

	sameListing := *incoming("  shreya ghoshal: LIVE in Dubai ", "Coca Cola Arena", &sameDayLater)
	if ComputeFingerprint(base) != ComputeFingerprint(sameListing) {
		t.Error("normalized repeats should share a fingerprint")
	}

	otherDay := *incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &nextDay)
	if ComputeFingerprint(base) == ComputeFingerprint(otherDay) {
		t.Error("different start day should change the fingerprint")
	}

	otherVenue := *incoming("Shreya Ghoshal Live in Dubai", "Dubai Opera", &start)
	if ComputeFingerprint(base) == ComputeFingerprint(otherVenue) {
		t.Error("different venue should change the fingerprint")
	}
}

func TestFingerprintFilter_Filter(t *testing.T) {
	start := concertStart
	filter := NewFingerprintFilter(NewFingerprintCache(time.Hour))

	batch := []models.Event{
		*incoming("Shreya Ghoshal Live in Dubai", "Coca-Cola Arena", &start),
		*incoming("Dubai Jazz Festival", "Media City", &start),
		*incoming("Shreya Ghoshal Live In Dubai", "Coca-Cola Arena", &start),
	}

	unique, repeats := filter.Filter(batch)
	if len(unique) != 2 || len(repeats) != 1 {
		t.Fatalf("Filter() = %d unique, %d repeats; want 2, 1", len(unique), len(repeats))
	}
	if unique[0].Title != "Shreya Ghoshal Live in Dubai" || unique[1].Title != "Dubai Jazz Festival" {
		t.Errorf("order not preserved: %q, %q", unique[0].Title, unique[1].Title)
	}

	stats := filter.GetStats()
	if stats.TotalProcessed != 3 || stats.Duplicates != 1 || stats.Unique != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DuplicateRate < 0.33 || stats.DuplicateRate > 0.34 {
		t.Errorf("duplicate rate = %v", stats.DuplicateRate)
	}

	filter.ResetStats()
	if filter.GetStats().TotalProcessed != 0 {
		t.Error("ResetStats() did not clear counters")
	}
}

func TestFingerprintCache_ForgetAndCleanup(t *testing.T) {
	start := concertStart
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cache := NewFingerprintCache(time.Hour)
	cache.now = func() time.Time { return now }

	e := *incoming("Shreya Ghoshal Live in Dubai", "", &start)
	if cache.SeenOrMark(e) {
		t.Fatal("first sighting reported as seen")
	}
	if !cache.SeenOrMark(e) {
		t.Fatal("second sighting not reported as seen")
	}

	cache.Forget(e)
	if cache.SeenOrMark(e) {
		t.Error("forgotten fingerprint still seen")
	}

	now = now.Add(2 * time.Hour)
	if removed := cache.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if cache.Size() != 0 {
		t.Errorf("Size() = %d after cleanup", cache.Size())
	}
}
