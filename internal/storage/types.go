package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file":   Path is a directory
//   - "sqlite": Path is the database file
//   - "redis":  RedisURL (redis://...)
//   - "memory"
type Config struct {
	Driver      string
	Path        string
	RedisURL    string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SeenRecord is one already-announced event id and when it was first confirmed.
type SeenRecord struct {
	ID     string    `json:"id"`
	SeenAt time.Time `json:"seen_at"`
}

// Store is the persistence API used by the pipeline's dedup sets.
type Store interface {
	// LoadSeen returns the persisted set for source. Missing => empty, nil.
	LoadSeen(ctx context.Context, source string) ([]SeenRecord, error)
	// SaveSeen atomically replaces the persisted set for source.
	SaveSeen(ctx context.Context, source string, records []SeenRecord) error
	Close() error
}
