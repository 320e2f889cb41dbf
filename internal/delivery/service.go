// Package delivery is the single-consumer FIFO between producers (poll ticks,
// webhook handlers) and the chat sink.
//
// Producers never block: Enqueue either accepts the task or returns
// ErrQueueFull / ErrStopped. One consumer goroutine sends tasks one at a time,
// paced by a minimum interval and a per-minute budget. A failed send is logged
// and dropped; the task's Done callback reports the outcome so the caller can
// decide what to commit.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"serverbot/internal/aggregate"
	"serverbot/internal/eventbus"
	rtsup "serverbot/internal/runtime/supervisor"
	kit "serverbot/internal/transport"
	logx "serverbot/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sink   kit.Sink
	groups *aggregate.Grouper
	bus    eventbus.Bus

	cfg      Config
	interval *rate.Limiter
	minute   *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Task
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

// New builds a stopped service. groups may be nil, in which case group keys
// are ignored and every task becomes a standalone message.
func New(cfg Config, sink kit.Sink, groups *aggregate.Grouper, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:      log.Component("delivery"),
		sink:     sink,
		groups:   groups,
		bus:      bus,
		cfg:      cfg,
		interval: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		minute:   rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60), cfg.PerMinute),
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Task, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	sup.GoRestart("delivery.consumer", func(c context.Context) error {
		s.consume(c, q)
		// Clean exits happen on shutdown (queue closed).
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("delivery consumer exited unexpectedly")
	})
}

// Stop stops intake and drains the queue until ctx expires. Tasks still queued
// at the deadline are finished with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so the consumer drains it.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		for t := range q {
			s.publish(t, eventbus.ResultDropped, ErrStopped)
			t.finish(ErrStopped)
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

// Enqueue hands t to the consumer without blocking. An empty ID is filled in.
func (s *Service) Enqueue(t Task) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	select {
	case q <- t:
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeQueueDepth, Data: eventbus.QueueDepth{Depth: len(q)}})
		s.log.Trace("task queued", logx.String("task", t.ID), logx.String("source", t.Source), logx.String("event", t.EventID))
		return nil
	default:
		s.publish(t, eventbus.ResultDropped, ErrQueueFull)
		return ErrQueueFull
	}
}

// Depth reports how many tasks are waiting.
func (s *Service) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	return len(s.queue)
}

func (s *Service) consume(ctx context.Context, q <-chan Task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, t)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeQueueDepth, Data: eventbus.QueueDepth{Depth: len(q)}})
		}
	}
}

func (s *Service) send(runCtx context.Context, t Task) {
	finished := false
	finish := func(err error) {
		finished = true
		t.finish(err)
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic sending %s: %v", t.ID, r)
			s.log.Error("delivery panicked", logx.String("task", t.ID), logx.Any("panic", r))
			s.publish(t, eventbus.ResultFailed, err)
			if !finished {
				t.finish(err)
			}
		}
	}()

	if err := s.interval.Wait(runCtx); err != nil {
		s.publish(t, eventbus.ResultDropped, ErrStopped)
		finish(ErrStopped)
		return
	}
	if err := s.minute.Wait(runCtx); err != nil {
		s.publish(t, eventbus.ResultDropped, ErrStopped)
		finish(ErrStopped)
		return
	}

	callCtx, cancel := context.WithTimeout(runCtx, s.cfg.SendTimeout)
	defer cancel()

	var (
		outcome = aggregate.Standalone
		err     error
	)
	if s.groups != nil {
		outcome, err = s.groups.Deliver(callCtx, s.sink, t.To, t.GroupKey, t.Record)
	} else {
		_, err = s.sink.Send(callCtx, t.To, []kit.Record{t.Record})
	}

	log := s.log.With(logx.String("task", t.ID), logx.String("source", t.Source), logx.String("event", t.EventID))
	if err != nil {
		log.Warn("send failed, dropping", logx.String("group", t.GroupKey), logx.Err(err))
		s.publish(t, eventbus.ResultFailed, err)
		finish(err)
		return
	}

	result := eventbus.ResultSent
	if outcome == aggregate.Appended {
		result = eventbus.ResultEdited
	}
	log.Debug("notification delivered", logx.String("outcome", outcome.String()))
	s.publish(t, result, nil)
	finish(nil)
}

func (s *Service) publish(t Task, result string, err error) {
	d := eventbus.Delivery{Source: t.Source, TaskID: t.ID, Result: result}
	if err != nil {
		d.Err = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Time: time.Now(), Data: d})
}
