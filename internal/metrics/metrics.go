// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	subscribersLost  *prometheus.CounterVec
	brokerFailures   prometheus.Counter
	brokerDropped    prometheus.Counter
	relayed          prometheus.Counter
	streams          *prometheus.GaugeVec
	presenceCleanups *prometheus.CounterVec
	lobbiesExpired   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "events_published_total",
			Help:      "Events published to the in-process hub.",
		}, []string{"scope", "event"}),
		subscribersLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers closed because their queue was full.",
		}, []string{"scope"}),
		brokerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "broker_publish_failures_total",
			Help:      "Broker publishes that returned an error.",
		}),
		brokerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "broker_publish_dropped_total",
			Help:      "Broker publishes dropped because the outbound queue was full.",
		}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "broker_relayed_total",
			Help:      "Events received from other instances and fed into the local hub.",
		}),
		streams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lobbyhub",
			Name:      "open_streams",
			Help:      "Currently attached streaming connections.",
		}, []string{"kind"}),
		presenceCleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "presence_cleanups_total",
			Help:      "Presence cleanups by reason and resulting action.",
		}, []string{"reason", "action"}),
		lobbiesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "lobbies_expired_total",
			Help:      "Lobbies closed by the expiry sweep.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyhub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lobbyhub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsPublished, m.subscribersLost, m.brokerFailures, m.brokerDropped, m.relayed,
		m.streams, m.presenceCleanups, m.lobbiesExpired, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EventPublished(scope, event string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(scope, event).Inc()
}

func (m *Metrics) SubscriberEvicted(scope string) {
	if m == nil {
		return
	}
	m.subscribersLost.WithLabelValues(scope).Inc()
}

func (m *Metrics) BrokerFailure() {
	if m == nil {
		return
	}
	m.brokerFailures.Inc()
}

func (m *Metrics) BrokerDropped() {
	if m == nil {
		return
	}
	m.brokerDropped.Inc()
}

func (m *Metrics) Relayed() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

// StreamOpened increments the open stream gauge and returns the matching decrement.
func (m *Metrics) StreamOpened(kind string) func() {
	if m == nil {
		return func() {}
	}
	g := m.streams.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

func (m *Metrics) PresenceCleanup(reason, action string) {
	if m == nil {
		return
	}
	m.presenceCleanups.WithLabelValues(reason, action).Inc()
}

func (m *Metrics) LobbiesExpired(n int) {
	if m == nil {
		return
	}
	m.lobbiesExpired.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
