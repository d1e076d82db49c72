package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Requests by route and outcome ("ok", "validation", "configuration", "upstream", "transport", ...)
	Requests *prometheus.CounterVec

	// Upstream calls by action and HTTP status ("error" when no response arrived)
	UpstreamRequests *prometheus.CounterVec

	UpstreamLatency *prometheus.HistogramVec

	// Tokens reported by Gemini usageMetadata, by action and direction ("input", "output")
	Tokens *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemini_relay_requests_total",
			Help: "Generation requests handled, by route and outcome",
		}, []string{"route", "outcome"}),
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemini_relay_upstream_requests_total",
			Help: "Calls to the Gemini API, by action and status",
		}, []string{"action", "status"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gemini_relay_upstream_duration_seconds",
			Help:    "Gemini API call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemini_relay_tokens_total",
			Help: "Tokens reported by the Gemini API, by action and direction",
		}, []string{"action", "direction"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(action string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(action, label).Inc()
	m.UpstreamLatency.WithLabelValues(action).Observe(latency.Seconds())
}

func (m *Metrics) ObserveTokens(action string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.Tokens.WithLabelValues(action, "input").Add(float64(input))
	}
	if output > 0 {
		m.Tokens.WithLabelValues(action, "output").Add(float64(output))
	}
}
