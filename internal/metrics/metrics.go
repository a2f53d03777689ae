package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurento_webrtc_active_sessions",
		Help: "Number of registered signaling sessions",
	})

	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurento_webrtc_registrations_total",
		Help: "Total successful registrations",
	})

	RegistrationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurento_webrtc_registration_failures_total",
		Help: "Total rejected registrations",
	})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurento_webrtc_active_calls",
		Help: "Number of calls with a live media pipeline",
	})

	CallsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurento_webrtc_calls_started_total",
		Help: "Total calls that reached media negotiation",
	})

	CallFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurento_webrtc_call_failures_total",
		Help: "Total failed or rejected call attempts",
	}, []string{"reason"}) // "unavailable" | "busy" | "declined" | "delivery" | "pipeline"

	CandidatesBufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurento_webrtc_ice_candidates_buffered_total",
		Help: "Candidates queued before their endpoint existed",
	})

	CandidatesForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurento_webrtc_ice_candidates_forwarded_total",
		Help: "Candidates delivered to a media endpoint",
	})

	SignalMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurento_webrtc_signal_messages_total",
		Help: "Total inbound signaling messages by type",
	}, []string{"type"})

	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurento_webrtc_active_websocket_connections",
		Help: "Number of active browser WebSocket connections",
	})
)
