package gossip

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Events is the number of events in the local gossip graph.
	Events prometheus.Gauge

	// GroupSize is the number of members in the agreed group view.
	GroupSize prometheus.Gauge

	// MessagesInbound is the total number of handled messages, labelled by
	// type.
	MessagesInbound *prometheus.CounterVec

	// MessagesOutbound is the total number of emitted messages, labelled
	// by type.
	MessagesOutbound *prometheus.CounterVec

	// MessagesRejected is the total number of rejected inbound messages.
	MessagesRejected prometheus.Counter

	// PacketBytesInbound is the total number of bytes read from the packet
	// connection.
	PacketBytesInbound prometheus.Counter

	// PacketBytesOutbound is the total number of bytes written to the
	// packet connection.
	PacketBytesOutbound prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		Events: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "events",
				Help:      "Number of events in the local gossip graph",
			},
		),
		GroupSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "group_size",
				Help:      "Number of members in the agreed group view",
			},
		),
		MessagesInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "messages_inbound_total",
				Help:      "Total number of handled messages",
			},
			[]string{"type"},
		),
		MessagesOutbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "messages_outbound_total",
				Help:      "Total number of emitted messages",
			},
			[]string{"type"},
		),
		MessagesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "messages_rejected_total",
				Help:      "Total number of rejected inbound messages",
			},
		),
		PacketBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "packet_bytes_inbound_total",
				Help:      "Total number of bytes read from the packet connection",
			},
		),
		PacketBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hearsay",
				Subsystem: "gossip",
				Name:      "packet_bytes_outbound_total",
				Help:      "Total number of bytes written to the packet connection",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.Events,
		m.GroupSize,
		m.MessagesInbound,
		m.MessagesOutbound,
		m.MessagesRejected,
		m.PacketBytesInbound,
		m.PacketBytesOutbound,
	)
}
