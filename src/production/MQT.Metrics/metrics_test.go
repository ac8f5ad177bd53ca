package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := NewForTest()

	m.MessagesReceived.Inc()
	m.MessagesDropped.WithLabelValues(DropEnvelope).Inc()
	m.MessagesDropped.WithLabelValues(DropEnvelope).Inc()
	m.ConnectedClients.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropEnvelope)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "telemetry_messages_received_total 1")
	assert.Contains(t, rec.Body.String(), `telemetry_messages_dropped_total{reason="envelope"} 2`)
	assert.Contains(t, rec.Body.String(), "telemetry_connected_clients 3")
}
