package pipeline

import "time"

// FilterWindow drops events strictly older than now-horizon. An event exactly
// at the boundary is kept. A non-positive horizon keeps everything.
//
// Dropped events are "too old", not "already seen": they are never recorded.
func FilterWindow(events []Event, horizon time.Duration, now time.Time) (kept, dropped []Event) {
	if horizon <= 0 {
		return events, nil
	}
	cutoff := now.Add(-horizon)
	kept = make([]Event, 0, len(events))
	for _, e := range events {
		if e.OccurredAt.Before(cutoff) {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, dropped
}
