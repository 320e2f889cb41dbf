// Package pipeline turns candidate events into a bounded, ordered,
// non-duplicated stream of notifications.
//
// A run for one source goes: time-window filter -> dedup claim -> batch
// assembly -> render -> enqueue -> wait for delivery receipts -> commit -> flush.
// An id is committed as seen only after the sink confirmed it, so a crash can
// at worst repeat a notification, never lose one.
package pipeline

import (
	"context"
	"errors"
	"time"

	kit "serverbot/internal/transport"
)

var ErrNoSource = errors.New("pipeline: unknown source")

// SourceType names an event producer. Ids are unique per SourceType.
type SourceType string

const (
	SourceTraktRatings      SourceType = "trakt.ratings"
	SourceTraktFavorites    SourceType = "trakt.favorites"
	SourceTraktWeekly       SourceType = "trakt.weekly"
	SourceRetroAchievements SourceType = "retroachievements"
	SourceSonarr            SourceType = "sonarr"
	SourceRadarr            SourceType = "radarr"
	SourceWatchtower        SourceType = "watchtower"
)

// Event is one candidate notification.
type Event struct {
	ID         string
	Source     SourceType
	OccurredAt time.Time
	GroupKey   string // empty: never merged
	// LegacyIDs are older ids the same item may have been persisted under.
	// A seen legacy id counts as seen and is migrated onto ID.
	LegacyIDs []string
	Payload   any
}

// Fetcher polls an upstream service. A malformed item must be skipped by the
// implementation; a returned error means the whole fetch failed.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Event, error)
}

// FetcherFunc adapts a plain function.
type FetcherFunc func(ctx context.Context) ([]Event, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]Event, error) { return f(ctx) }

// Renderer turns an event payload into a chat record.
type Renderer func(Event) (kit.Record, error)

// Source is the pipeline's view of one configured producer.
type Source struct {
	Type      SourceType
	Horizon   time.Duration // 0: no time window
	MaxBatch  int           // 0: DefaultMaxBatch
	Retention time.Duration // 0: seen ids are kept forever
	To        kit.ChatTarget
	Fetcher   Fetcher // nil for webhook-only sources
	Render    Renderer
}
