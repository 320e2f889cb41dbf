// Package metrics exposes pipeline and delivery counters to Prometheus.
//
// The collector owns a private registry and is fed from the event bus, so
// the pipeline and the delivery service never import Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serverbot/internal/eventbus"
	"serverbot/internal/runtime/supervisor"
)

const namespace = "serverbot"

type Collector struct {
	reg *prometheus.Registry

	fetched    *prometheus.CounterVec
	filtered   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "Events returned by a source before filtering.",
		}, []string{"source"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_filtered_total",
			Help:      "Events not delivered this tick, by reason.",
		}, []string{"source", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"source", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Tasks waiting in the delivery queue.",
		}),
	}
	c.reg.MustRegister(
		c.fetched, c.filtered, c.deliveries, c.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// WatchSupervisor exports the supervisor's goroutine counters.
func (c *Collector) WatchSupervisor(sup *supervisor.Supervisor) {
	gauge := func(name, help string, v func(supervisor.Counters) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      name,
			Help:      help,
		}, func() float64 { return v(sup.Counters()) })
	}
	c.reg.MustRegister(
		gauge("goroutines_active", "Supervised goroutines currently running.", func(s supervisor.Counters) float64 { return float64(s.Active) }),
		gauge("panics", "Recovered panics since start.", func(s supervisor.Counters) float64 { return float64(s.Panics) }),
		gauge("restarts", "Goroutine restarts since start.", func(s supervisor.Counters) float64 { return float64(s.Restarts) }),
	)
}

// Observe applies one bus event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeFetched:
		if d, ok := e.Data.(eventbus.SourceCount); ok {
			c.fetched.WithLabelValues(d.Source).Add(float64(d.N))
		}
	case eventbus.TypeFiltered:
		if d, ok := e.Data.(eventbus.SourceCount); ok {
			c.filtered.WithLabelValues(d.Source, d.Reason).Add(float64(d.N))
		}
	case eventbus.TypeDelivery:
		if d, ok := e.Data.(eventbus.Delivery); ok {
			c.deliveries.WithLabelValues(d.Source, d.Result).Inc()
		}
	case eventbus.TypeQueueDepth:
		if d, ok := e.Data.(eventbus.QueueDepth); ok {
			c.queueDepth.Set(float64(d.Depth))
		}
	}
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	return c.Attach(bus)(ctx)
}

// Attach subscribes to bus immediately and returns the loop draining it.
// Events published after Attach returns are never missed.
func (c *Collector) Attach(bus eventbus.Bus) func(ctx context.Context) error {
	ch, unsub := bus.Subscribe(256)
	return func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				c.Observe(e)
			}
		}
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
