// Package forecast reduces the 3-hour forecast feed to one sample per day.
package forecast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reduce keeps the first item seen for each UTC calendar day of its dt,
// preserving input order. Only dt is decoded; kept items are returned
// byte-for-byte as received. The input is not modified.
func Reduce(items []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, 6)
	seen := make(map[string]struct{}, 6)
	for i, item := range items {
		var head struct {
			Dt *int64 `json:"dt"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("forecast item %d: %w", i, err)
		}
		if head.Dt == nil {
			return nil, fmt.Errorf("forecast item %d: missing dt", i)
		}
		day := Day(*head.Dt)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}

// Day returns the UTC date (YYYY-MM-DD) of a Unix timestamp in seconds.
func Day(dt int64) string {
	return time.Unix(dt, 0).UTC().Format("2006-01-02")
}
