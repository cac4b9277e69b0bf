package traffic

import (
	"testing"
	"time"
)

func TestTracker_Counts(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Record(Success)
	tr.Record(Success)
	tr.Record(Error)
	tr.RecordN(Denied, 3)

	c := tr.Counts(time.Minute)
	if c.Success != 2 || c.Errors != 1 || c.Denied != 3 {
		t.Fatalf("Counts() = %+v, want 2/1/3", c)
	}
	if c.Total() != 6 {
		t.Errorf("Total() = %d, want 6", c.Total())
	}
}

// TestCounts_ErrorPctExcludesDenied verifies that denials do not dilute the error rate.
func TestCounts_ErrorPctExcludesDenied(t *testing.T) {
	c := Counts{Success: 3, Errors: 1, Denied: 100}
	if got := c.ErrorPct(); got != 25 {
		t.Errorf("ErrorPct() = %v, want 25", got)
	}
	if got := (Counts{}).ErrorPct(); got != 0 {
		t.Errorf("ErrorPct() on empty = %v, want 0", got)
	}
}

func TestTracker_WindowAndPrune(t *testing.T) {
	now := time.Now()
	tr := NewTracker(time.Minute)
	tr.now = func() time.Time { return now }

	tr.Record(Error)
	now = now.Add(30 * time.Second)
	tr.Record(Success)

	if c := tr.Counts(10 * time.Second); c.Errors != 0 || c.Success != 1 {
		t.Errorf("Counts(10s) = %+v, want only the recent success", c)
	}

	now = now.Add(2 * time.Minute)
	tr.Record(Success)
	tr.mu.Lock()
	errs := len(tr.times[Error])
	tr.mu.Unlock()
	if errs != 0 {
		t.Errorf("old error not pruned, %d remain", errs)
	}
}

func TestTracker_IgnoresInvalid(t *testing.T) {
	tr := NewTracker(0)
	tr.RecordN(Outcome(7), 2)
	tr.RecordN(Success, 0)
	if c := tr.Counts(time.Minute); c.Total() != 0 {
		t.Errorf("Counts() = %+v, want empty", c)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.RecordN(Success, 5)
	tr.Reset()
	if c := tr.Counts(time.Minute); c.Total() != 0 {
		t.Errorf("Counts() after Reset = %+v", c)
	}
}
