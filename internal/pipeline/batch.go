package pipeline

import (
	"sort"
)

// DefaultMaxBatch caps how many events one run delivers.
const DefaultMaxBatch = 10

// Assemble sorts events oldest first and keeps the most recent max of them.
// The older excess is returned as overflow; it is not marked seen, so it stays
// eligible for the next run. Ties on OccurredAt are broken by ID.
func Assemble(events []Event, max int) (batch, overflow []Event) {
	if max <= 0 {
		max = DefaultMaxBatch
	}
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.ID < b.ID
	})
	if len(sorted) <= max {
		return sorted, nil
	}
	cut := len(sorted) - max
	return sorted[cut:], sorted[:cut]
}
