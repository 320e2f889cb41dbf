// Package aggregate merges related notifications into one growing chat message.
//
// A Handle maps a group key (for example "sonarr:12:s3") to a message that was
// already sent and can still take more records. Handles live in memory only;
// after a restart the next event for a key starts a new message.
package aggregate

import (
	"context"
	"errors"
	"sync"

	kit "serverbot/internal/transport"
	logx "serverbot/pkg/logx"
)

// DefaultCapacity is the number of records one aggregate message may hold.
const DefaultCapacity = 10

type Handle struct {
	GroupKey string
	Ref      kit.MessageRef
	Records  []kit.Record
}

func (h Handle) Count() int { return len(h.Records) }

// Outcome tells the caller what Deliver did.
type Outcome int

const (
	// Standalone: no group key, a plain new message.
	Standalone Outcome = iota
	// Appended: the record was added to an existing message.
	Appended
	// Created: a new aggregate message was started.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Created:
		return "created"
	default:
		return "standalone"
	}
}

// Grouper owns the group key -> handle map.
//
// Decisions and commits happen under the lock; sink I/O never does.
type Grouper struct {
	capacity int
	log      logx.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

func New(capacity int, log logx.Logger) *Grouper {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Grouper{capacity: capacity, log: log, handles: map[string]*Handle{}}
}

func (g *Grouper) Capacity() int { return g.capacity }

// Resolve returns the open handle for key, if any. A full handle is not open.
func (g *Grouper) Resolve(key string) (Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.handles[key]
	if h == nil || len(h.Records) >= g.capacity {
		return Handle{}, false
	}
	return Handle{GroupKey: h.GroupKey, Ref: h.Ref, Records: append([]kit.Record(nil), h.Records...)}, true
}

// Forget drops the handle for key.
func (g *Grouper) Forget(key string) {
	g.mu.Lock()
	delete(g.handles, key)
	g.mu.Unlock()
}

func (g *Grouper) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Deliver sends rec to the sink. With an empty key it is a plain Send.
//
// With a key it edits the open message for that key, or starts a new one when
// there is none, the open one is full, or it lives in a different chat.
// A message that no longer exists (transport.ErrMessageGone) or cannot grow
// any further (transport.ErrMessageFull) is replaced by a new message instead
// of failing.
func (g *Grouper) Deliver(ctx context.Context, sink kit.Sink, to kit.ChatTarget, key string, rec kit.Record) (Outcome, error) {
	if key == "" {
		_, err := sink.Send(ctx, to, []kit.Record{rec})
		return Standalone, err
	}

	if h, ok := g.Resolve(key); ok && h.Ref.ChatID == to.ChatID && h.Ref.ThreadID == to.ThreadID {
		records := append(h.Records, rec)
		err := sink.Edit(ctx, h.Ref, records)
		if err == nil {
			g.mu.Lock()
			if cur := g.handles[key]; cur != nil && cur.Ref == h.Ref {
				cur.Records = records
			}
			g.mu.Unlock()
			return Appended, nil
		}
		switch {
		case errors.Is(err, kit.ErrMessageFull):
			g.log.Debug("aggregate message full, starting a new one",
				logx.String("group", key), logx.Int("message_id", h.Ref.MessageID), logx.Int("records", h.Count()))
		case errors.Is(err, kit.ErrMessageGone):
			g.log.Warn("aggregate message gone, starting a new one",
				logx.String("group", key), logx.Int("message_id", h.Ref.MessageID), logx.Err(err))
		default:
			return Appended, err
		}
		g.Forget(key)
	}

	ref, err := sink.Send(ctx, to, []kit.Record{rec})
	if err != nil {
		return Created, err
	}
	g.mu.Lock()
	g.handles[key] = &Handle{GroupKey: key, Ref: ref, Records: []kit.Record{rec}}
	g.mu.Unlock()
	return Created, nil
}
