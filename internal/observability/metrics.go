package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "matches_total", Help: "Ride requests by match outcome"},
		[]string{"outcome"},
	)
	MatchRetries   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "match_retries_total", Help: "Candidates lost to a concurrent claim"})
	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "dispatch", Name: "match_latency_seconds", Help: "Match latency seconds", Buckets: prometheus.DefBuckets})
	DriversVisible = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "drivers_visible", Help: "Drivers not offline"})
	DriversSwept   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "drivers_swept_total", Help: "Drivers marked offline by the liveness sweep"})

	PresenceUpdates    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "presence_updates_total", Help: "Driver presence updates applied"})
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "observers_connected", Help: "Registered presence observers"})
	BroadcastFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "broadcast_failures_total", Help: "Per-observer delivery failures"})

	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "trip_transitions_total", Help: "Trip lifecycle transitions"},
		[]string{"status"},
	)
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "event_publish_failures_total", Help: "Dispatch events that could not be published"})
)
