// Package metrics provides Prometheus metrics for the agent and gateway.
//
// All recording methods are safe on a nil *Metrics so callers can run with
// metrics disabled without branching.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/bizagent/internal/hooks"
)

const namespace = "bizagent"

// Metrics holds all Prometheus metrics for bizagent.
type Metrics struct {
	registry *prometheus.Registry

	// Orchestrator
	MessagesTotal     *prometheus.CounterVec
	MessageDuration   *prometheus.HistogramVec
	IterationsPerTurn prometheus.Histogram
	StreamsInFlight   prometheus.Gauge

	// Tools
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Provider
	ProviderErrorsTotal *prometheus.CounterVec

	// Payments
	ConfirmationsTotal *prometheus.CounterVec

	// Gateway
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the metrics on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of processed user messages",
		}, []string{"mode", "status"}),

		MessageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Duration of message processing in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		IterationsPerTurn: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations_per_message",
			Help:      "Completion calls needed to answer one message",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		StreamsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_in_flight",
			Help:      "Number of streaming responses currently open",
		}),

		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool executions",
		}, []string{"tool", "status"}),

		ToolCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		ProviderErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of completion provider failures",
		}, []string{"provider"}),

		ConfirmationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Payment confirmation lifecycle events",
		}, []string{"event"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of gateway HTTP requests",
		}, []string{"route", "code"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordMessage records one processed message.
func (m *Metrics) RecordMessage(mode string, iterations int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(mode, status(err)).Inc()
	m.MessageDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if iterations > 0 {
		m.IterationsPerTurn.Observe(float64(iterations))
	}
}

// RecordToolCall records one tool execution. A tool that returned
// success=false counts as an error.
func (m *Metrics) RecordToolCall(tool string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	s := "success"
	if !ok {
		s = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, s).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordProviderError counts a failed completion call.
func (m *Metrics) RecordProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrorsTotal.WithLabelValues(provider).Inc()
}

// StreamStarted increments the open stream gauge and returns its release.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.StreamsInFlight.Inc()
	return m.StreamsInFlight.Dec
}

// RecordHTTPRequest counts one gateway request.
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Observe counts payment lifecycle events from the hook manager.
func (m *Metrics) Observe(hm *hooks.Manager) {
	if m == nil || hm == nil {
		return
	}
	for _, event := range []string{
		hooks.EventConfirmationCreated,
		hooks.EventConfirmationExpired,
		hooks.EventTransactionDone,
		hooks.EventTransactionCanceled,
	} {
		hm.On(event, "metrics", func(_ context.Context, p hooks.Payload) error {
			m.ConfirmationsTotal.WithLabelValues(p.Event).Inc()
			return nil
		})
	}
}
