package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"serverbot/internal/delivery"
	"serverbot/internal/eventbus"
	"serverbot/internal/storage"
	logx "serverbot/pkg/logx"
)

// Enqueuer is the delivery queue as seen by the pipeline.
type Enqueuer interface {
	Enqueue(t delivery.Task) error
}

// Result summarises one run.
type Result struct {
	Fetched      int
	TooOld       int
	Seen         int
	Deferred     int
	RenderFailed int
	Enqueued     int
	Delivered    int
	Failed       int
	Pending      int // still waiting for a receipt when the run ended
}

// Runner executes pipeline runs. Tick and Process are safe to call
// concurrently, including for the same source.
type Runner struct {
	log   logx.Logger
	state *State
	queue Enqueuer
	bus   eventbus.Bus
	now   func() time.Time

	mu      sync.RWMutex
	sources map[SourceType]Source
}

type RunnerOption func(*Runner)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(state *State, queue Enqueuer, bus eventbus.Bus, log logx.Logger, opts ...RunnerOption) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	r := &Runner{
		log:     log.Component("pipeline"),
		state:   state,
		queue:   queue,
		bus:     bus,
		now:     time.Now,
		sources: map[SourceType]Source{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AddSource registers src and loads its seen set from store.
func (r *Runner) AddSource(ctx context.Context, src Source, store storage.Store) error {
	if src.Render == nil {
		return fmt.Errorf("source %s: renderer is required", src.Type)
	}
	d, err := LoadDedup(ctx, store, src.Type, src.Retention)
	if err != nil {
		return err
	}
	r.state.SetDedup(d)
	r.mu.Lock()
	r.sources[src.Type] = src
	r.mu.Unlock()
	r.log.Info("source registered",
		logx.String("source", string(src.Type)),
		logx.Int("seen", d.Len()),
		logx.Duration("horizon", src.Horizon),
		logx.Int("max_batch", src.MaxBatch))
	return nil
}

func (r *Runner) Source(t SourceType) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[t]
	return s, ok
}

// Tick fetches from a poll source and processes the result. A fetch error
// aborts only this tick.
func (r *Runner) Tick(ctx context.Context, t SourceType) (Result, error) {
	src, ok := r.Source(t)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSource, t)
	}
	if src.Fetcher == nil {
		return Result{}, fmt.Errorf("source %s has no fetcher", t)
	}
	events, err := src.Fetcher.Fetch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", t, err)
	}
	return r.Process(ctx, t, events)
}

// Process runs events through the pipeline for source t and waits for
// delivery receipts until ctx ends. Receipts arriving later are still
// committed in memory and persisted by the next flush.
func (r *Runner) Process(ctx context.Context, t SourceType, events []Event) (Result, error) {
	src, ok := r.Source(t)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSource, t)
	}
	d, ok := r.state.Dedup(t)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSource, t)
	}
	log := r.log.With(logx.String("source", string(t)))
	now := r.now()
	res := Result{Fetched: len(events)}
	r.publish(eventbus.TypeFetched, t, "", len(events))

	kept, old := FilterWindow(events, src.Horizon, now)
	res.TooOld = len(old)
	r.publish(eventbus.TypeFiltered, t, eventbus.ReasonHorizon, len(old))

	d.Prune(now)
	claimed, seen := d.Claim(kept)
	res.Seen = len(seen)
	r.publish(eventbus.TypeFiltered, t, eventbus.ReasonSeen, len(seen))

	batch, overflow := Assemble(claimed, src.MaxBatch)
	for _, e := range overflow {
		d.Release(e.ID)
	}
	res.Deferred = len(overflow)
	r.publish(eventbus.TypeFiltered, t, eventbus.ReasonDeferred, len(overflow))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for _, e := range batch {
		rec, err := src.Render(e)
		if err != nil {
			// At-most-once for malformed items: marking it seen keeps one bad
			// payload from failing every run.
			log.Warn("render failed, skipping", logx.String("event", e.ID), logx.Err(err))
			d.Add(e.ID, now)
			res.RenderFailed++
			r.publish(eventbus.TypeFiltered, t, eventbus.ReasonRender, 1)
			continue
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = e.OccurredAt
		}

		id := e.ID
		wg.Add(1)
		task := delivery.Task{
			Source:   string(t),
			EventID:  id,
			To:       src.To,
			Record:   rec,
			GroupKey: e.GroupKey,
			Done: func(err error) {
				if err == nil {
					d.Add(id, r.now())
				} else {
					d.Release(id)
				}
				mu.Lock()
				settled++
				if err == nil {
					res.Delivered++
				} else {
					res.Failed++
				}
				mu.Unlock()
				wg.Done()
			},
		}
		if err := r.queue.Enqueue(task); err != nil {
			wg.Done()
			d.Release(id)
			log.Warn("enqueue failed, deferring", logx.String("event", id), logx.Err(err))
			mu.Lock()
			res.Deferred++
			mu.Unlock()
			r.publish(eventbus.TypeFiltered, t, eventbus.ReasonDeferred, 1)
			continue
		}
		mu.Lock()
		res.Enqueued++
		mu.Unlock()
	}

	waitCtx(ctx, &wg)

	if err := d.Flush(context.WithoutCancel(ctx), r.now()); err != nil {
		log.Error("flush failed, continuing in memory", logx.Err(err))
	}

	mu.Lock()
	out := res
	out.Pending = out.Enqueued - settled
	mu.Unlock()
	if out.Enqueued > 0 || out.RenderFailed > 0 || out.Deferred > 0 {
		log.Info("run finished",
			logx.Int("fetched", out.Fetched),
			logx.Int("too_old", out.TooOld),
			logx.Int("seen", out.Seen),
			logx.Int("deferred", out.Deferred),
			logx.Int("delivered", out.Delivered),
			logx.Int("failed", out.Failed),
			logx.Int("pending", out.Pending))
	} else {
		log.Debug("run finished, nothing new", logx.Int("fetched", out.Fetched))
	}
	return out, nil
}

// FlushAll persists every source's seen set. Used on shutdown.
func (r *Runner) FlushAll(ctx context.Context) {
	for _, d := range r.state.all() {
		if err := d.Flush(ctx, r.now()); err != nil {
			r.log.Error("flush failed", logx.String("source", string(d.Source())), logx.Err(err))
		}
	}
}

func (r *Runner) publish(typ string, src SourceType, reason string, n int) {
	if n == 0 && typ != eventbus.TypeFetched {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.SourceCount{Source: string(src), Reason: reason, N: n}})
}

func waitCtx(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
