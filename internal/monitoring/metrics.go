// Package monitoring - metrics.go exposes operational counters via Prometheus.
//
// DESIGN: A Metrics value owns its own registry so tests get isolated
// counters and nothing leaks through the default global registry.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects gateway operational metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	blocked         *prometheus.CounterVec
	killSwitchTrips prometheus.Counter
	rateLimited     *prometheus.CounterVec
	eventsFlushed   prometheus.Counter
	eventsDropped   prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
}

// NewMetrics creates a metrics collector with a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		blocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_blocked_total",
			Help: "Requests blocked by policy, by reason.",
		}, []string{"reason"}),
		killSwitchTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_kill_switch_trips_total",
			Help: "Agents deactivated by the kill switch.",
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by rate limiting, by scope.",
		}, []string{"scope"}),
		eventsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_flushed_total",
			Help: "Agent events delivered to the ingest endpoint.",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_dropped_total",
			Help: "Agent events dropped because the queue was full.",
		}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Upstream call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(provider, outcome string) {
	m.requests.WithLabelValues(provider, outcome).Inc()
}

// RecordBlocked records a policy block.
func (m *Metrics) RecordBlocked(reason string) {
	m.blocked.WithLabelValues(reason).Inc()
}

// RecordKillSwitchTrip records an automatic agent deactivation.
func (m *Metrics) RecordKillSwitchTrip() { m.killSwitchTrips.Inc() }

// RecordRateLimited records a rate-limit rejection for "agent" or "provider" scope.
func (m *Metrics) RecordRateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// RecordEventsFlushed records successfully delivered events.
func (m *Metrics) RecordEventsFlushed(n int) { m.eventsFlushed.Add(float64(n)) }

// RecordEventsDropped records events lost to queue overflow.
func (m *Metrics) RecordEventsDropped(n int) { m.eventsDropped.Add(float64(n)) }

// RecordUpstreamLatency records one upstream call duration.
func (m *Metrics) RecordUpstreamLatency(provider string, d time.Duration) {
	m.upstreamLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
