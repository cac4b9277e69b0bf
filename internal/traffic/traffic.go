// Package traffic keeps sliding windows of lookup outcomes. The HTTP health
// check derives its degraded and overloaded states from these counts.
package traffic

import (
	"sync"
	"time"
)

// Outcome is the result class of one served lookup.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
)

// Counts is a snapshot of outcomes inside a window.
type Counts struct {
	Success int
	Errors  int
	Denied  int
}

// Total returns all outcomes including denials.
func (c Counts) Total() int {
	return c.Success + c.Errors + c.Denied
}

// ErrorPct returns errors as a percentage of successes+errors; denials are excluded.
func (c Counts) ErrorPct() float64 {
	served := c.Success + c.Errors
	if served == 0 {
		return 0
	}
	return float64(c.Errors) * 100 / float64(served)
}

// Tracker records outcome timestamps. Entries older than maxAge are pruned on write.
type Tracker struct {
	mu     sync.Mutex
	times  [3][]time.Time
	maxAge time.Duration
	now    func() time.Time
}

// NewTracker returns a Tracker that retains outcomes for maxAge (default 5m).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Record records one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN records n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	if o < Success || o > Denied || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// Counts returns the outcomes recorded within window ending now.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Counts{
		Success: countSince(t.times[Success], cutoff),
		Errors:  countSince(t.times[Error], cutoff),
		Denied:  countSince(t.times[Denied], cutoff),
	}
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Slices are append-only in
// time order, so a prefix scan is enough.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
