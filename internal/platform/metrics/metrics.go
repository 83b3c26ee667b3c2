// Package metrics owns the Prometheus registry and the collectors the claim
// workflow reports into. Every recording method is safe on a nil *Metrics so
// components can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claimdesk"

// Analysis outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeUnconfigured = "unconfigured"
	OutcomeExhausted    = "rate_limit_exhausted"
	OutcomeBackendError = "backend_error"
	OutcomeMalformed    = "malformed_response"
)

// Suggestion results.
const (
	SuggestGenerated = "generated"
	SuggestFallback  = "fallback"
	SuggestCached    = "cached"
)

type Metrics struct {
	registry *prometheus.Registry

	claimTransitions *prometheus.CounterVec
	analysisOutcomes *prometheus.CounterVec
	analysisRetries  prometheus.Counter
	analysisDuration prometheus.Histogram
	suggestionRuns   *prometheus.CounterVec
	chunkFailures    *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		claimTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_transitions_total",
			Help:      "Claim lifecycle transitions by source and target status.",
		}, []string{"from", "to"}),
		analysisOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Claim analyses by outcome.",
		}, []string{"outcome"}),
		analysisRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_rate_limit_retries_total",
			Help:      "Backoff retries caused by generative backend rate limiting.",
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one claim analysis including retries.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		suggestionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_runs_total",
			Help:      "Required-document synthesis runs by result.",
		}, []string{"result"}),
		chunkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_chunk_failures_total",
			Help:      "Policy text chunks skipped during synthesis, by reason.",
		}, []string{"reason"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Claim events handed to the publisher, by type and result.",
		}, []string{"type", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
		prometheus.NewGoCollector(),
		m.claimTransitions,
		m.analysisOutcomes,
		m.analysisRetries,
		m.analysisDuration,
		m.suggestionRuns,
		m.chunkFailures,
		m.eventsPublished,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ClaimTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.claimTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) AnalysisOutcome(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.analysisOutcomes.WithLabelValues(outcome).Inc()
	m.analysisDuration.Observe(took.Seconds())
}

func (m *Metrics) AnalysisRetry() {
	if m == nil {
		return
	}
	m.analysisRetries.Inc()
}

func (m *Metrics) SuggestionRun(result string) {
	if m == nil {
		return
	}
	m.suggestionRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ChunkFailure(reason string) {
	if m == nil {
		return
	}
	m.chunkFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// Middleware records request latency labelled by route template, so claim
// IDs do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
