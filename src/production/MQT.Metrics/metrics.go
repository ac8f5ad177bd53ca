package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telemetry"

// Drop reasons for MessagesDropped
const (
	DropEnvelope  = "envelope"
	DropRegistry  = "registry"
	DropStore     = "store"
	DropDuplicate = "duplicate"
)

// Metrics holds the collectors of the telemetry server
type Metrics struct {
	MessagesReceived  prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	ReadingsStored    prometheus.Counter
	DevicesCreated    prometheus.Counter
	SnapshotFailures  prometheus.Counter
	EventsDelivered   *prometheus.CounterVec
	DeliveriesDropped prometheus.Counter
	ConnectedClients  prometheus.Gauge
	IngestDuration    prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "MQTT messages handed to the ingestion pipeline.",
		}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Messages dropped before fan-out, by reason.",
		}, []string{"reason"}),
		ReadingsStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "readings_stored_total",
			Help: "Readings appended to the telemetry log.",
		}),
		DevicesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "devices_created_total",
			Help: "Devices auto-registered on first message.",
		}),
		SnapshotFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshot_failures_total",
			Help: "Failed latestReading cache updates.",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_delivered_total",
			Help: "Events handed to subscriber connections, by event name.",
		}, []string{"event"}),
		DeliveriesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_dropped_total",
			Help: "Events skipped for slow or closed subscribers.",
		}),
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected_clients",
			Help: "Open websocket connections.",
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ingest_duration_seconds",
			Help:    "Time from message receipt to fan-out.",
			Buckets: prometheus.DefBuckets,
		}),
		gatherer: reg,
	}
}

// NewForTest returns metrics on a private registry
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
