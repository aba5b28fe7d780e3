package PeerManager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routesAnnounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arrayrt_peer_routes_announced_total",
		Help: "Peer routes added or replaced in the routing table.",
	})
	routesWithdrawn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arrayrt_peer_routes_withdrawn_total",
		Help: "Peer routes removed from the routing table.",
	}, []string{"reason"})
	routesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arrayrt_peer_routes_rejected_total",
		Help: "Peer announcements outside the accepted ranges.",
	})
)
