package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshbridge",
		Name:      "ws_clients",
		Help:      "Currently attached WebSocket clients.",
	})

	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshbridge",
		Name:      "broadcast_events_total",
		Help:      "Event frames broadcast to clients, by frame kind.",
	}, []string{"kind"})

	metricConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshbridge",
		Name:      "connect_attempts_total",
		Help:      "Device connect attempts, by outcome.",
	}, []string{"outcome"})

	metricSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshbridge",
		Name:      "message_sends_total",
		Help:      "Message send requests, by outcome.",
	}, []string{"outcome"})
)
