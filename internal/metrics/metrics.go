// Package metrics holds the Prometheus collectors exported by the signaling
// server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
)

const namespace = "signaling"

// Relay drop reasons.
const (
	DropReasonNoRoom          = "no_room"
	DropReasonUnknownPeer     = "unknown_recipient"
	DropReasonRecipientClosed = "recipient_closed"
	DropReasonQueueFull       = "queue_full"
)

// Metrics is safe for concurrent use. All methods are no-ops on a nil
// receiver.
type Metrics struct {
	reg *prometheus.Registry

	connectionsActive prometheus.Gauge
	envelopes         *prometheus.CounterVec
	relayDropped      *prometheus.CounterVec
	joinFailures      prometheus.Counter
	roomsCreated      prometheus.Counter
	connectionsClosed *prometheus.CounterVec
}

// New registers the signaling collectors together with the Go runtime and
// process collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open signaling WebSocket connections.",
		}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by kind.",
		}, []string{"kind"}),
		relayDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Relay payloads that were not delivered, by reason.",
		}, []string{"reason"}),
		joinFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_failures_total",
			Help:      "join-room requests naming a room that does not exist.",
		}),
		roomsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created since start.",
		}),
		connectionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed signaling connections by cause.",
		}, []string{"cause"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// WatchRooms exports the registry's live room and participant counts as
// gauges sampled at scrape time.
func (m *Metrics) WatchRooms(stats func() rooms.Stats) {
	if m == nil || stats == nil {
		return
	}
	m.reg.MustRegister(&roomCollector{stats: stats})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

// ConnectionClosed records a closed connection. cause is a short label such
// as "client", "rate_limited" or "shutdown".
func (m *Metrics) ConnectionClosed(cause string) {
	if m != nil {
		m.connectionsActive.Dec()
		m.connectionsClosed.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) Envelope(kind string) {
	if m != nil {
		m.envelopes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RelayDropped(reason string) {
	if m != nil {
		m.relayDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) JoinFailed() {
	if m != nil {
		m.joinFailures.Inc()
	}
}

func (m *Metrics) RoomCreated() {
	if m != nil {
		m.roomsCreated.Inc()
	}
}

var (
	roomsActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rooms_active"),
		"Rooms currently held in memory.",
		nil, nil,
	)
	participantsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "participants"),
		"Participants currently bound to a room, by role.",
		[]string{"role"}, nil,
	)
)

type roomCollector struct {
	stats func() rooms.Stats
}

func (c *roomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- roomsActiveDesc
	ch <- participantsDesc
}

func (c *roomCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(roomsActiveDesc, prometheus.GaugeValue, float64(s.Rooms))
	ch <- prometheus.MustNewConstMetric(participantsDesc, prometheus.GaugeValue, float64(s.Streamers), string(rooms.RoleStreamer))
	ch <- prometheus.MustNewConstMetric(participantsDesc, prometheus.GaugeValue, float64(s.Viewers), string(rooms.RoleViewer))
}
