package delivery

import (
	"errors"
	"time"

	kit "serverbot/internal/transport"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery stopped")
)

type Config struct {
	QueueSize   int
	MinInterval time.Duration // minimum gap between two sends
	PerMinute   int           // sends allowed per rolling minute
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if c.PerMinute <= 0 {
		c.PerMinute = 20
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Task is one rendered notification on its way to the sink.
//
// Done, if set, is called exactly once with the send result: nil when the sink
// confirmed, the send error, or ErrStopped when the task never reached the sink.
// It runs on the consumer goroutine and must not block.
type Task struct {
	ID       string
	Source   string
	EventID  string
	To       kit.ChatTarget
	Record   kit.Record
	GroupKey string // empty: standalone message
	Done     func(error)
}

func (t Task) finish(err error) {
	if t.Done != nil {
		t.Done(err)
	}
}
