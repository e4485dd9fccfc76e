// Package metrics exposes component registry activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/compmgr/component"
)

// Collector records registry activity. It implements component.Observer.
type Collector struct {
	registry *prometheus.Registry

	registered   *prometheus.GaugeVec
	adds         *prometheus.CounterVec
	removals     *prometheus.CounterVec
	collisions   *prometheus.CounterVec
	lookupFails  *prometheus.CounterVec
	initDuration *prometheus.HistogramVec
}

var _ component.Observer = (*Collector)(nil)

// NewCollector creates a collector with its own registry. The Go and
// process collectors are registered alongside the registry metrics.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		registered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "components_registered",
				Help:      "Current number of components owned by a manager.",
			},
			[]string{"manager"},
		),

		adds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_adds_total",
				Help:      "Total number of components added.",
			},
			[]string{"manager", "class"},
		),

		removals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_removals_total",
				Help:      "Total number of components removed.",
			},
			[]string{"manager", "class"},
		),

		collisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "name_collisions_total",
				Help:      "Total number of rejected instance names.",
			},
			[]string{"manager"},
		),

		lookupFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_failures_total",
				Help:      "Total number of fatal component lookups.",
			},
			[]string{"manager", "reason"},
		),

		initDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "component_init_duration_seconds",
				Help:      "Duration of component bring-up.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"manager", "class", "result"},
		),
	}

	c.registry.MustRegister(
		c.registered,
		c.adds,
		c.removals,
		c.collisions,
		c.lookupFails,
		c.initDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler exposing the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ComponentAdded(manager, class string) {
	c.registered.WithLabelValues(manager).Inc()
	c.adds.WithLabelValues(manager, class).Inc()
}

func (c *Collector) ComponentRemoved(manager, class string) {
	c.registered.WithLabelValues(manager).Dec()
	c.removals.WithLabelValues(manager, class).Inc()
}

func (c *Collector) ComponentInitialized(manager, class string, took time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.initDuration.WithLabelValues(manager, class, result).Observe(took.Seconds())
}

func (c *Collector) NameCollision(manager string) {
	c.collisions.WithLabelValues(manager).Inc()
}

func (c *Collector) LookupFailed(manager, reason string) {
	c.lookupFails.WithLabelValues(manager, reason).Inc()
}
