package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serverbot/internal/storage"
)

// Dedup is the in-memory seen set of one source, backed by a storage.Store.
//
// Besides seen ids it tracks pending ids: claimed by a run that is still
// waiting for delivery. A pending id is neither seen nor claimable again, so
// two overlapping runs (a poll and a webhook, or two webhooks) cannot both
// enqueue the same event.
type Dedup struct {
	source    SourceType
	store     storage.Store
	retention time.Duration

	mu      sync.Mutex
	seen    map[string]time.Time
	pending map[string]struct{}
	dirty   bool
}

// LoadDedup reads the persisted set for source. A missing set is empty.
func LoadDedup(ctx context.Context, store storage.Store, source SourceType, retention time.Duration) (*Dedup, error) {
	recs, err := store.LoadSeen(ctx, string(source))
	if err != nil {
		return nil, fmt.Errorf("load seen %s: %w", source, err)
	}
	d := &Dedup{
		source:    source,
		store:     store,
		retention: retention,
		seen:      make(map[string]time.Time, len(recs)),
		pending:   map[string]struct{}{},
	}
	for _, r := range recs {
		d.seen[r.ID] = r.SeenAt
	}
	return d, nil
}

func (d *Dedup) Source() SourceType { return d.source }

func (d *Dedup) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Claim marks every unseen, unclaimed event pending and returns them in input
// order. The rest are returned as already seen (or claimed by another run).
// An event whose legacy id is seen is recorded under its current id, keeping
// the original time, and counts as seen.
func (d *Dedup) Claim(events []Event) (claimed, seen []Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	claimed = make([]Event, 0, len(events))
	for _, e := range events {
		if _, ok := d.seen[e.ID]; ok {
			seen = append(seen, e)
			continue
		}
		if at, ok := d.legacySeenLocked(e); ok {
			d.seen[e.ID] = at
			d.dirty = true
			seen = append(seen, e)
			continue
		}
		if _, ok := d.pending[e.ID]; ok {
			seen = append(seen, e)
			continue
		}
		d.pending[e.ID] = struct{}{}
		claimed = append(claimed, e)
	}
	return claimed, seen
}

func (d *Dedup) legacySeenLocked(e Event) (time.Time, bool) {
	for _, id := range e.LegacyIDs {
		if at, ok := d.seen[id]; ok {
			return at, true
		}
	}
	return time.Time{}, false
}

// Add marks id seen at the given time. Re-adding keeps the first time.
func (d *Dedup) Add(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = at
	d.dirty = true
}

// Release returns a claimed id to the eligible pool without marking it seen.
func (d *Dedup) Release(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// Flush prunes ids older than the retention (if any) and writes the whole set.
// Nothing is written when nothing changed.
func (d *Dedup) Flush(ctx context.Context, now time.Time) error {
	d.mu.Lock()
	d.pruneLocked(now)
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	recs := make([]storage.SeenRecord, 0, len(d.seen))
	for id, at := range d.seen {
		recs = append(recs, storage.SeenRecord{ID: id, SeenAt: at})
	}
	d.dirty = false
	d.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].SeenAt.Equal(recs[j].SeenAt) {
			return recs[i].SeenAt.Before(recs[j].SeenAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if err := d.store.SaveSeen(ctx, string(d.source), recs); err != nil {
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return fmt.Errorf("save seen %s: %w", d.source, err)
	}
	return nil
}

// Prune drops ids older than the retention so they are claimable again. The
// removal is persisted by the next Flush.
func (d *Dedup) Prune(now time.Time) {
	d.mu.Lock()
	d.pruneLocked(now)
	d.mu.Unlock()
}

func (d *Dedup) pruneLocked(now time.Time) {
	if d.retention <= 0 {
		return
	}
	cutoff := now.Add(-d.retention)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
			d.dirty = true
		}
	}
}
