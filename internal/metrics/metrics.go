// Package metrics exposes the relay's Prometheus collectors. Each Metrics
// value owns its own registry so tests can create as many as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botrelay"

// Message directions.
const (
	ToTarget = "to_target"
	ToClient = "to_client"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	Exhausted         prometheus.Counter
	Forwarded         *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	ProxyRequests     *prometheus.CounterVec
	ProxyDuration     prometheus.Histogram
	DecodeFailures    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Relay sessions currently registered.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_sessions_total",
			Help:      "Relay sessions created.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnect_attempts_total",
			Help:      "Target reconnections scheduled.",
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnect_exhausted_total",
			Help:      "Sessions closed because the target stayed unreachable.",
		}),
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_forwarded_total",
			Help:      "Frames forwarded, by direction.",
		}, []string{"direction"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_dropped_total",
			Help:      "Frames dropped because the peer socket was not open, by direction.",
		}, []string{"direction"}),
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "HTTP proxy calls, by response status code.",
		}, []string{"code"}),
		ProxyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_duration_seconds",
			Help:      "Upstream round-trip latency of HTTP proxy calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_decode_failures_total",
			Help:      "Response bodies passed through undecoded after a decode error, by encoding.",
		}, []string{"encoding"}),
	}
	m.registry.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.ReconnectAttempts,
		m.Exhausted,
		m.Forwarded,
		m.Dropped,
		m.ProxyRequests,
		m.ProxyDuration,
		m.DecodeFailures,
	)
	return m
}

// WatchAppIDs publishes the distinct application identifier count reported by fn.
func (m *Metrics) WatchAppIDs(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_app_ids",
		Help:      "Distinct application identifiers with at least one live session.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) ObserveProxy(code int, elapsed time.Duration) {
	m.ProxyRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	m.ProxyDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer is used by tests to inspect collected values.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
