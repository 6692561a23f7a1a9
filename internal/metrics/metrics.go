// Package metrics defines the Prometheus collectors exported on /metrics.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "falaai"

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	LLMCalls         *prometheus.CounterVec
	LLMCostUSD       *prometheus.CounterVec
	CachedStates     prometheus.Gauge
	RetentionDeleted *prometheus.CounterVec
	RetentionRuns    *prometheus.CounterVec
	EmailsSent       *prometheus.CounterVec
}

// New registers every collector on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Chat model invocations by model and outcome.",
		}, []string{"model", "outcome"}),
		LLMCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated chat model spend in USD.",
		}, []string{"model"}),
		CachedStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_cache_states",
			Help:      "Conversation states held in the process-local cache.",
		}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_rows_total",
			Help:      "Rows deleted by the retention job, by table.",
		}, []string{"table"}),
		RetentionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_runs_total",
			Help:      "Retention job runs by outcome.",
		}, []string{"outcome"}),
		EmailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Verification emails by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.LLMCalls,
		m.LLMCostUSD,
		m.CachedStates,
		m.RetentionDeleted,
		m.RetentionRuns,
		m.EmailsSent,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveLLMCall(model, outcome string, costUSD float64) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(model, outcome).Inc()
	if costUSD > 0 {
		m.LLMCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

func (m *Metrics) SetCachedStates(n int) {
	if m == nil {
		return
	}
	m.CachedStates.Set(float64(n))
}

func (m *Metrics) ObserveRetention(messages, conversations int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RetentionRuns.WithLabelValues("error").Inc()
		return
	}
	m.RetentionRuns.WithLabelValues("ok").Inc()
	m.RetentionDeleted.WithLabelValues("mensagens").Add(float64(messages))
	m.RetentionDeleted.WithLabelValues("conversas").Add(float64(conversations))
}

func (m *Metrics) ObserveEmail(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EmailsSent.WithLabelValues(outcome).Inc()
}
