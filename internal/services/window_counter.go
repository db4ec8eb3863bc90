package services

import (
	"sync"
	"time"
)

// WindowStatus is the result of peeking at a key's sliding window.
type WindowStatus struct {
	Count             int
	RemainingCapacity int
	ResetIn           time.Duration
}

// WindowCounter counts attempts per key over a true sliding time window.
// Unlike fixed-bucket counters it cannot be gamed by bursting just before and
// just after a reset boundary: every call re-evaluates the trailing window.
type WindowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	entries map[string][]time.Time

	now func() time.Time
}

// NewWindowCounter creates a counter over the given window. limit is only
// used to report remaining capacity; enforcement lives with the caller.
func NewWindowCounter(window time.Duration, limit int) *WindowCounter {
	return &WindowCounter{
		window:  window,
		limit:   limit,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Record registers an attempt for key and returns the count of attempts
// within the window, the new attempt included. An absent key starts at zero.
func (c *WindowCounter) Record(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.pruneLocked(key, now)
	kept = append(kept, now)
	c.entries[key] = kept
	return len(kept)
}

// Peek reports the current window state for key without recording anything.
func (c *WindowCounter) Peek(key string) WindowStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.pruneLocked(key, now)
	if len(kept) == 0 {
		delete(c.entries, key)
		return WindowStatus{RemainingCapacity: c.limit}
	}
	c.entries[key] = kept

	remaining := c.limit - len(kept)
	if remaining < 0 {
		remaining = 0
	}

	oldest := kept[0]
	if oldest.After(now) {
		// Tolerate backward clock adjustments: an entry "from the future"
		// counts as happening right now.
		oldest = now
	}
	resetIn := c.window - now.Sub(oldest)
	if resetIn < 0 {
		resetIn = 0
	}

	return WindowStatus{
		Count:             len(kept),
		RemainingCapacity: remaining,
		ResetIn:           resetIn,
	}
}

// Clear discards all recorded attempts for key.
func (c *WindowCounter) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// pruneLocked drops entries older than the window. Timestamps beyond now are
// kept; they were recorded under a clock that has since stepped backward.
func (c *WindowCounter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-c.window)
	ts := c.entries[key]

	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	return ts[idx:]
}

// Sweep drops keys with no live entries, then evicts oldest-first until at
// most maxKeys remain. Returns the number of keys removed.
func (c *WindowCounter) Sweep(now time.Time, maxKeys int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := now.Add(-c.window)
	for key, ts := range c.entries {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}

	removed += evictOldest(len(c.entries)-maxKeys, c.entries, func(ts []time.Time) time.Time { return ts[0] })
	return removed
}

// TrackedKeys reports how many keys currently hold state.
func (c *WindowCounter) TrackedKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
