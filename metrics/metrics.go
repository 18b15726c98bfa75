package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mapagent"

// UnknownTool is the tool label for dispatches to names the registry does not
// hold, so model-invented names cannot grow label cardinality.
const UnknownTool = "unknown"

// Metrics holds the Prometheus collectors for the reasoning loop, tool
// dispatch and model calls. A nil *Metrics is valid and records nothing.
type Metrics struct {
	queries     *prometheus.CounterVec
	iterations  prometheus.Histogram
	parseErrors prometheus.Counter
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	llmCalls    *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the instance registered with prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// MustNew builds collectors and registers them with reg. Collectors already
// registered under the same name are reused; any other registration error
// panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "queries_total",
			Help:      "Queries processed, by outcome.",
		}, []string{"outcome"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "query_iterations",
			Help:      "Tool rounds needed per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "parse_errors_total",
			Help:      "Model replies whose action block could not be parsed.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool dispatches, by tool and status.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Language model requests, by mode and status.",
		}, []string{"mode", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Language model request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"mode"}),
	}
	m.queries = register(reg, m.queries).(*prometheus.CounterVec)
	m.iterations = register(reg, m.iterations).(prometheus.Histogram)
	m.parseErrors = register(reg, m.parseErrors).(prometheus.Counter)
	m.toolCalls = register(reg, m.toolCalls).(*prometheus.CounterVec)
	m.toolLatency = register(reg, m.toolLatency).(*prometheus.HistogramVec)
	m.llmCalls = register(reg, m.llmCalls).(*prometheus.CounterVec)
	m.llmLatency = register(reg, m.llmLatency).(*prometheus.HistogramVec)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

// ObserveQuery records a finished query. outcome is one of "answered",
// "degraded" or "error".
func (m *Metrics) ObserveQuery(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.iterations.Observe(float64(iterations))
}

// IncParseError counts an unparseable action block.
func (m *Metrics) IncParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// ObserveTool records one dispatch.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveLLM records one model request. mode is "chat" or "stream".
func (m *Metrics) ObserveLLM(mode string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCalls.WithLabelValues(mode, status).Inc()
	m.llmLatency.WithLabelValues(mode).Observe(d.Seconds())
}
