package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomlink_rooms_active",
			Help: "Number of rooms with at least one member",
		},
	)

	peersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomlink_peers_connected",
			Help: "Number of signaling links attached to the relay",
		},
	)

	joinDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomlink_join_denials_total",
			Help: "Join requests denied, by reason",
		},
		[]string{"reason"},
	)

	messagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomlink_messages_relayed_total",
			Help: "Messages forwarded between peers, by type",
		},
		[]string{"type"},
	)
)
