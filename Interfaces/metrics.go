package Interfaces

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arrayrt_packets_forwarded_total",
		Help: "Packets sent to a route gateway.",
	})
	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arrayrt_packets_dropped_total",
		Help: "Packets dropped on the forwarding path.",
	}, []string{"reason"})
)
