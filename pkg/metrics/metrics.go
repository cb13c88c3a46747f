// Package metrics exposes Prometheus counters for routing and dispatch.
package metrics

import (
	"context"
	"strconv"

	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modelrouter"

var (
	_ router.TraceSink  = (*Collector)(nil)
	_ dispatch.Observer = (*Collector)(nil)
)

// Collector counts routing decisions, dispatch attempts and catalog
// fallbacks. It doubles as a router.TraceSink and a dispatch.Observer.
type Collector struct {
	decisions         *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	served            *prometheus.CounterVec
	exhausted         prometheus.Counter
	firstTokenTimeout prometheus.Counter
	catalogFallbacks  prometheus.Counter
}

// New registers the collector's metrics on reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by reason.",
		}, []string{"mode", "reason"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failed_attempts_total",
			Help:      "Failed dispatch attempts by model and retryability.",
		}, []string{"model", "retryable"}),
		served: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "served_total",
			Help:      "Turns served by model.",
		}, []string{"model"}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "exhausted_total",
			Help:      "Turns for which every candidate model failed.",
		}),
		firstTokenTimeout: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "first_token_timeouts_total",
			Help:      "Streams aborted before their first token arrived.",
		}),
		catalogFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fallbacks_total",
			Help:      "Times the static fallback catalog was used.",
		}),
	}
}

// Emit implements router.TraceSink.
func (c *Collector) Emit(_ context.Context, t *router.Trace) {
	c.decisions.WithLabelValues(string(t.Mode()), string(t.Reason())).Inc()
}

// ObserveAttempt implements dispatch.Observer.
func (c *Collector) ObserveAttempt(a dispatch.Attempt) {
	c.attempts.WithLabelValues(a.Model, strconv.FormatBool(a.Retryable)).Inc()
}

// ObserveExhausted implements dispatch.Observer.
func (c *Collector) ObserveExhausted() { c.exhausted.Inc() }

// ObserveServed counts a turn served by model.
func (c *Collector) ObserveServed(model string) { c.served.WithLabelValues(model).Inc() }

// ObserveFirstTokenTimeout counts a stream aborted by the first-token watchdog.
func (c *Collector) ObserveFirstTokenTimeout() { c.firstTokenTimeout.Inc() }

// CatalogFallback counts a use of the fallback catalog.
func (c *Collector) CatalogFallback() { c.catalogFallbacks.Inc() }
