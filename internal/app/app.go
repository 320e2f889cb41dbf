// Package app wires configuration, storage, sources, the pipeline and the
// delivery path into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"serverbot/internal/aggregate"
	"serverbot/internal/config"
	"serverbot/internal/delivery"
	"serverbot/internal/eventbus"
	"serverbot/internal/metrics"
	"serverbot/internal/pipeline"
	"serverbot/internal/runtime/supervisor"
	"serverbot/internal/sources/arr"
	"serverbot/internal/sources/retro"
	"serverbot/internal/sources/trakt"
	"serverbot/internal/sources/watchtower"
	"serverbot/internal/storage"
	"serverbot/internal/task/scheduler"
	kit "serverbot/internal/transport"
	telegram "serverbot/internal/transport/telegram/adapter"
	"serverbot/internal/webhook"
	logx "serverbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	sink     kit.Sink
	groups   *aggregate.Grouper
	delivery *delivery.Service
	runner   *pipeline.Runner
	sched    *scheduler.Service
	hooks    *webhook.Server
	metrics  *metrics.Collector

	sup *supervisor.Supervisor
}

type Option func(*options)

type options struct {
	sink kit.Sink
}

// WithSink replaces the Telegram sink (dry runs and tests).
func WithSink(s kit.Sink) Option { return func(o *options) { o.sink = s } }

// New loads the config at path and builds the app. Nothing runs until Start.
func New(ctx context.Context, path string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(path, logx.NewConsole("info").Component("config"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, opts...)
}

func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logSvc, root := logx.NewService(mapLogging(cfg))
	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		log:  root.Component("app"),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	if cfgm != nil {
		cfgm.SetLogger(root.Component("config"))
	}

	if o.sink != nil {
		a.sink = o.sink
	} else {
		tg, err := telegram.New(mapTelegram(cfg), root.Component("telegram"))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.sink = tg
	}

	store, err := storage.Open(ctx, mapStorage(cfg), root.Component("storage"))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.store = store

	a.groups = aggregate.New(cfg.Delivery.GroupCapacity, root)
	a.delivery = delivery.New(mapDelivery(cfg), a.sink, a.groups, root, a.bus)
	a.runner = pipeline.NewRunner(pipeline.NewState(a.groups), a.delivery, a.bus, root)
	a.sched = scheduler.New(mapScheduler(cfg), root.Component("scheduler"))
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	if err := a.registerSources(ctx, root); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.log.Info("app built",
		logx.String("storage", cfg.Storage.Driver),
		logx.Int("schedules", len(a.sched.Entries())),
		logx.Bool("webhook", a.hooks != nil),
		logx.Bool("metrics", a.metrics != nil))
	return a, nil
}

// registerSources adds every enabled source to the runner and binds it to
// its trigger: a schedule for poll sources, a route for webhook sources.
func (a *App) registerSources(ctx context.Context, root logx.Logger) error {
	types := make([]string, 0, len(a.cfg.Sources))
	for typ, sc := range a.cfg.Sources {
		if sc.Enabled {
			types = append(types, typ)
		}
	}
	sort.Strings(types)

	var tc *trakt.Client
	for _, typ := range types {
		sc := a.cfg.Sources[typ]
		src := mapSource(typ, sc)

		switch typ {
		case config.SourceTraktRatings, config.SourceTraktFavorites, config.SourceTraktWeekly:
			if tc == nil {
				c, err := trakt.New(mapTrakt(a.cfg), root)
				if err != nil {
					return err
				}
				tc = c
			}
			switch typ {
			case config.SourceTraktRatings:
				src.Fetcher, src.Render = tc.Ratings(), tc.Renderer().Rating
			case config.SourceTraktFavorites:
				src.Fetcher, src.Render = tc.Favorites(), tc.Renderer().Favorite
			default:
				src.Fetcher, src.Render = tc.Weekly(), tc.Renderer().Weekly
			}
		case config.SourceRetroAchievements:
			rc, err := retro.New(mapRetro(a.cfg, sc), root)
			if err != nil {
				return err
			}
			src.Fetcher, src.Render = rc.Recent(), retro.Render
		case config.SourceSonarr:
			src.Render = arr.RenderSonarr
		case config.SourceRadarr:
			src.Render = arr.RenderRadarr
		case config.SourceWatchtower:
			src.Render = watchtower.Render
		default:
			return fmt.Errorf("source %s: not supported", typ)
		}

		if err := a.runner.AddSource(ctx, src, a.store); err != nil {
			return err
		}

		if config.IsWebhookSource(typ) {
			a.webhook(root).Handle(typ, src.Type, parserFor(src.Type))
			continue
		}
		job := a.tickJob(src.Type)
		var err error
		if at := strings.TrimSpace(sc.DailyAt); at != "" {
			err = a.sched.AddDaily(typ, at, job)
		} else {
			err = a.sched.Add(typ, sc.Schedule, job)
		}
		if err != nil {
			return fmt.Errorf("source %s: %w", typ, err)
		}
	}
	return nil
}

func (a *App) webhook(root logx.Logger) *webhook.Server {
	if a.hooks == nil {
		// The supervisor is attached in Start.
		a.hooks = webhook.New(mapWebhook(a.cfg), a.runner, nil, root)
		if a.metrics != nil {
			a.hooks.MountMetrics(a.metrics.Handler())
		}
		if a.cfg.Metrics.Pprof {
			a.hooks.MountProfiler()
		}
	}
	return a.hooks
}

func parserFor(t pipeline.SourceType) webhook.Parser {
	switch t {
	case pipeline.SourceSonarr:
		return arr.ParseSonarr
	case pipeline.SourceRadarr:
		return arr.ParseRadarr
	default:
		return watchtower.Parse
	}
}

func (a *App) tickJob(t pipeline.SourceType) scheduler.Job {
	return func(ctx context.Context) error {
		// The runner logs the outcome.
		_, err := a.runner.Tick(ctx, t)
		return err
	}
}

// Start launches every background component under one supervisor.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	sctx := a.sup.Context()

	// Delivery outlives the supervisor so Stop can drain it; its own Stop
	// deadline bounds the drain.
	a.delivery.Start(context.WithoutCancel(sctx))
	if a.metrics != nil {
		a.metrics.WatchSupervisor(a.sup)
		a.sup.Go("metrics", a.metrics.Attach(a.bus))
	}
	if a.hooks != nil {
		a.hooks.SetSupervisor(a.sup)
		a.sup.GoRestart("webhook.server", a.hooks.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	a.sched.Start(sctx)

	if a.cfgm != nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(next)
				}
			}
		})
	}
	a.log.Info("app started")
	return nil
}

// applyConfig applies the live part of a reloaded config. Everything else is
// logged as needing a restart.
func (a *App) applyConfig(next *config.Config) {
	ch := config.Diff(a.cfg, next)
	if len(ch.Sections) == 0 {
		return
	}
	a.logs.Apply(mapLogging(next))
	a.sched.Apply(mapScheduler(next))
	a.log.Info("config applied", ch.Fields(next)...)
	if !ch.Live {
		a.log.Warn("config change needs a restart to take full effect", logx.Any("changed", ch.Sections))
	}
	a.cfg = next
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Stop shuts down in dependency order: triggers first, then the delivery
// queue is drained, then every dedup set is flushed and storage closed.
func (a *App) Stop(ctx context.Context) error {
	start := time.Now()
	a.log.Info("stopping")

	a.sched.Stop(ctx)
	if a.sup != nil {
		a.sup.Cancel()
	}
	a.delivery.Stop(ctx)
	var errs []error
	if a.sup != nil {
		if err := a.sup.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// Receipts that arrived after their run gave up waiting are persisted here.
	a.runner.FlushAll(context.WithoutCancel(ctx))
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
