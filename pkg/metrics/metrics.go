package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tcp"

// Metrics counts what the stack is doing. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SegmentsSent      prometheus.Counter
	SegmentsReceived  prometheus.Counter
	Retransmissions   prometheus.Counter
	Resets            *prometheus.CounterVec
	BytesWritten      prometheus.Counter
	BytesRead         prometheus.Counter
	ActiveConnections prometheus.Gauge
	DroppedPackets    *prometheus.CounterVec
}

// New builds the counters on their own registry so tests don't trip over each other
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		SegmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sent_total",
			Help:      "Segments handed to the network layer",
		}),
		SegmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_received_total",
			Help:      "Segments delivered to a connection",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Segments sent again after a retransmission timeout",
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Connections torn down by RST",
		}, []string{"direction"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Application bytes accepted into send buffers",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Application bytes read out of receive buffers",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently in the socket table",
		}),
		DroppedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_packets_total",
			Help:      "Incoming packets that never reached a connection",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.SegmentsSent,
		m.SegmentsReceived,
		m.Retransmissions,
		m.Resets,
		m.BytesWritten,
		m.BytesRead,
		m.ActiveConnections,
		m.DroppedPackets,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

func (m *Metrics) SegmentSent() {
	if m == nil {
		return
	}
	m.SegmentsSent.Inc()
}

func (m *Metrics) SegmentReceived() {
	if m == nil {
		return
	}
	m.SegmentsReceived.Inc()
}

func (m *Metrics) Retransmitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Retransmissions.Add(float64(n))
}

// Reset records a RST, direction is "sent" or "received"
func (m *Metrics) Reset(direction string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(direction).Inc()
}

func (m *Metrics) AddBytesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) AddBytesRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedPackets.WithLabelValues(reason).Inc()
}
