package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answer paths
const (
	PathShortcut = "shortcut"
	PathAgent    = "agent"
	PathError    = "error"
)

// Tool outcomes
const (
	ToolOK      = "ok"
	ToolFailed  = "failed"
	ToolInvalid = "invalid"
	ToolUnknown = "unknown"
)

type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	IncAnswer(path string)
	IncToolCall(tool, outcome string)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncAnswer(string)                               {}
func (Noop) IncToolCall(string, string)                     {}

type prom struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	answers  *prometheus.CounterVec
	tools    *prometheus.CounterVec
}

// NewProm registers the assistant collectors on the default registerer.
// Collectors already registered under the same names are reused.
func NewProm(namespace string) Metrics {
	p := &prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answered questions by path",
		}, []string{"path"}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Agent tool invocations by tool/outcome",
		}, []string{"tool", "outcome"}),
	}
	p.requests = register(p.requests)
	p.latency = register(p.latency)
	p.answers = register(p.answers)
	p.tools = register(p.tools)
	return p
}

func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (p *prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *prom) IncAnswer(path string) {
	p.answers.WithLabelValues(path).Inc()
}

func (p *prom) IncToolCall(tool, outcome string) {
	p.tools.WithLabelValues(tool, outcome).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
