// Package metrics exposes Prometheus counters for chat traffic, completion
// calls and normalized actions. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geechat"

type Metrics struct {
	registry       *prometheus.Registry
	chatRequests   *prometheus.CounterVec
	completions    *prometheus.CounterVec
	actions        *prometheus.CounterVec
	completionTime *prometheus.HistogramVec
}

// New registers every collector on a dedicated registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by transport and outcome.",
		}, []string{"transport", "outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Completion service calls by pass and result.",
		}, []string{"pass", "result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Normalized actions by type.",
		}, []string{"type"}),
		completionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion call latency by pass.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"pass"}),
	}
	m.registry.MustRegister(
		m.chatRequests,
		m.completions,
		m.actions,
		m.completionTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveChat counts one finished chat request. Outcome is "ok" or an
// error kind.
func (m *Metrics) ObserveChat(transport, outcome string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) ObserveCompletion(pass, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(pass, result).Inc()
	m.completionTime.WithLabelValues(pass).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAction(actionType string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(actionType).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
