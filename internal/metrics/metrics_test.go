package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMessage("sync", 2, time.Second, nil)
		m.RecordToolCall("calculator", true, time.Millisecond)
		m.RecordProviderError("openai")
		m.RecordHTTPRequest("/api/chat", 200)
		m.StreamStarted()()
		m.Observe(hooks.NewManager(logging.New(nil, "silent")))
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordMessage(t *testing.T) {
	m := New()
	m.RecordMessage("sync", 2, 10*time.Millisecond, nil)
	m.RecordMessage("stream", 1, 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("stream", "error")))
}

func TestRecordToolCall(t *testing.T) {
	m := New()
	m.RecordToolCall("bizum", false, time.Millisecond)
	m.RecordToolCall("bizum", true, time.Millisecond)
	m.RecordToolCall("bizum", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("bizum", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("bizum", "error")))
}

func TestStreamStarted(t *testing.T) {
	m := New()
	done := m.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamsInFlight))
}

func TestObserveHooks(t *testing.T) {
	m := New()
	hm := hooks.NewManager(logging.New(nil, "silent"))
	m.Observe(hm)

	hm.Emit(context.Background(), hooks.EventConfirmationCreated, nil)
	hm.Emit(context.Background(), hooks.EventTransactionDone, nil)
	hm.Emit(context.Background(), hooks.EventTransactionDone, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfirmationsTotal.WithLabelValues(hooks.EventConfirmationCreated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConfirmationsTotal.WithLabelValues(hooks.EventTransactionDone)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordProviderError("openai")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bizagent_provider_errors_total{provider="openai"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
