// Package metrics exposes Prometheus counters for container activity:
// resolutions, collapses, cross-scope promotions and prototype creation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes and promotion kinds.
const (
	OutcomeHit       = "hit"
	OutcomeMiss      = "miss"
	OutcomeRetried   = "retried"
	OutcomeError     = "error"
	PromoteComposite = "composite"
	PromoteBridge    = "bridge"
)

// Collector holds the container's metrics on a private registry so that
// several containers in one process (tests, mostly) never collide on
// registration.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Resolutions         *prometheus.CounterVec
	ResolveDuration     prometheus.Histogram
	Collapses           *prometheus.CounterVec
	Promotions          *prometheus.CounterVec
	DuplicateSingletons prometheus.Counter
	Prototypes          prometheus.Counter
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of top-level resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Top-level resolution latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		Collapses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collapses_total",
				Help:      "Number of times a profile's pending fragments were merged",
			},
			[]string{"profile"},
		),
		Promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "Cross-scope fallbacks that satisfied a missing dependency",
			},
			[]string{"kind"},
		),
		DuplicateSingletons: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_singletons_total",
				Help:      "Singleton bindings accepted for a type already bound in another profile",
			},
		),
		Prototypes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prototypes_created_total",
				Help:      "Instances produced by prototype factories",
			},
		),
	}

	c.registry.MustRegister(
		c.Resolutions,
		c.ResolveDuration,
		c.Collapses,
		c.Promotions,
		c.DuplicateSingletons,
		c.Prototypes,
	)
	return c
}

// Registry returns the private registry, for promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveResolution records one top-level resolution.
func (c *Collector) ObserveResolution(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Resolutions.WithLabelValues(outcome).Inc()
	c.ResolveDuration.Observe(elapsed.Seconds())
}

func (c *Collector) IncCollapse(profile string) {
	if c == nil {
		return
	}
	c.Collapses.WithLabelValues(profile).Inc()
}

func (c *Collector) IncPromotion(kind string) {
	if c == nil {
		return
	}
	c.Promotions.WithLabelValues(kind).Inc()
}

func (c *Collector) IncDuplicateSingleton() {
	if c == nil {
		return
	}
	c.DuplicateSingletons.Inc()
}

func (c *Collector) IncPrototype() {
	if c == nil {
		return
	}
	c.Prototypes.Inc()
}
