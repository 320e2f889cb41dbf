// Package transporttest provides an in-memory transport.Sink for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "serverbot/internal/transport"
)

type Call struct {
	Op      string // "send" or "edit"
	Ref     kit.MessageRef
	Records []kit.Record
}

type Message struct {
	Ref     kit.MessageRef
	Records []kit.Record
}

// Sink records every call. Messages can be deleted to simulate
// an aggregate target that disappeared.
type Sink struct {
	mu       sync.Mutex
	nextID   int
	msgs     map[int]*Message
	order    []int
	calls    []Call
	failNext []error

	// OnSend, if set, runs before each Send while the sink lock is not held.
	OnSend func(records []kit.Record)
	// EditLimit, if > 0, makes Edit fail with ErrMessageFull for more records.
	EditLimit int
}

func New() *Sink { return &Sink{msgs: map[int]*Message{}} }

// FailNext queues errors returned by the next Send calls, in order.
func (s *Sink) FailNext(errs ...error) {
	s.mu.Lock()
	s.failNext = append(s.failNext, errs...)
	s.mu.Unlock()
}

func (s *Sink) Send(ctx context.Context, to kit.ChatTarget, records []kit.Record) (kit.MessageRef, error) {
	if s.OnSend != nil {
		s.OnSend(records)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	s.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: s.nextID}
	recs := append([]kit.Record(nil), records...)
	s.msgs[s.nextID] = &Message{Ref: ref, Records: recs}
	s.order = append(s.order, s.nextID)
	s.calls = append(s.calls, Call{Op: "send", Ref: ref, Records: recs})
	return ref, nil
}

func (s *Sink) Edit(ctx context.Context, ref kit.MessageRef, records []kit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[ref.MessageID]
	if !ok {
		return fmt.Errorf("edit %d: %w", ref.MessageID, kit.ErrMessageGone)
	}
	if s.EditLimit > 0 && len(records) > s.EditLimit {
		return fmt.Errorf("edit %d: %w", ref.MessageID, kit.ErrMessageFull)
	}
	recs := append([]kit.Record(nil), records...)
	m.Records = recs
	s.calls = append(s.calls, Call{Op: "edit", Ref: ref, Records: recs})
	return nil
}

// Delete removes a message as if a chat admin had deleted it.
func (s *Sink) Delete(id int) {
	s.mu.Lock()
	delete(s.msgs, id)
	s.mu.Unlock()
}

// Messages returns the live messages in the order they were first sent.
func (s *Sink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		if m, ok := s.msgs[id]; ok {
			out = append(out, Message{Ref: m.Ref, Records: append([]kit.Record(nil), m.Records...)})
		}
	}
	return out
}

func (s *Sink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Titles returns the title of every record as it first reached the sink,
// in delivery order. An edit contributes only its last record.
func (s *Sink) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		switch c.Op {
		case "send":
			for _, r := range c.Records {
				out = append(out, r.Title)
			}
		case "edit":
			if n := len(c.Records); n > 0 {
				out = append(out, c.Records[n-1].Title)
			}
		}
	}
	return out
}
