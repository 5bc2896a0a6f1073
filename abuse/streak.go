package abuse

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// violationRecord stores the consecutive rate-limit rejection history
// for a user.
type violationRecord struct {
	count int
	first time.Time
}

// ViolationStreakTracker counts consecutive rate-limit rejections within
// a rolling window. A streak survives only as long as the user keeps
// getting rejected; any allowed request clears it.
type ViolationStreakTracker struct {
	mu      sync.Mutex
	records *lru.LRU[int64, *violationRecord]
	window  time.Duration
}

func NewViolationStreakTracker(window time.Duration, cacheSize int) *ViolationStreakTracker {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache := lru.NewLRU[int64, *violationRecord](cacheSize, nil, 2*window)
	return &ViolationStreakTracker{
		records: cache,
		window:  window,
	}
}

// Record registers one rejection and returns the updated streak count.
// A record older than the window starts a fresh streak.
func (t *ViolationStreakTracker) Record(userID int64, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records.Get(userID)
	if !ok || now.Sub(rec.first) > t.window {
		rec = &violationRecord{count: 1, first: now}
		t.records.Add(userID, rec)
		return rec.count
	}
	rec.count++
	return rec.count
}

// Clear deletes the user's streak. Called on every allowed request.
func (t *ViolationStreakTracker) Clear(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records.Remove(userID)
}
