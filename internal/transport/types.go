package transport

import (
	"context"
	"errors"
	"time"
)

// ErrMessageGone reports that a previously sent message can no longer be
// edited (deleted externally, too old, or the chat is gone).
var ErrMessageGone = errors.New("transport: message no longer exists")

// ErrMessageFull reports that an edit would no longer fit into one message.
// The existing message is left untouched.
var ErrMessageFull = errors.New("transport: message is full")

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Record is one rendered notification, independent of the chat platform.
type Record struct {
	Author    string
	Title     string
	URL       string
	Body      string
	Fields    []Field
	Color     int
	Thumbnail string
	Timestamp time.Time
}

// Sink delivers rendered records to a chat destination.
//
// Send creates a new message holding records (in order). Edit replaces the
// content of an existing message with records; implementations return
// ErrMessageGone (possibly wrapped) when ref no longer exists and
// ErrMessageFull when records do not fit into a single message. Edit never
// sends additional messages.
type Sink interface {
	Send(ctx context.Context, to ChatTarget, records []Record) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, records []Record) error
}
