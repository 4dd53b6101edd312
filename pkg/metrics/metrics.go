// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts persisted bus events by type.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpals_events_emitted_total",
		Help: "Events persisted to the session log, by event type.",
	}, []string{"type"})

	// ActiveSubscribers tracks live SSE/WS subscribers across all sessions.
	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pushpals_active_subscribers",
		Help: "Live event stream subscribers across all sessions.",
	})

	// SubscribersDropped counts subscribers dropped on buffer overflow.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushpals_subscribers_dropped_total",
		Help: "Subscribers dropped because their buffer overflowed.",
	})

	// QueueEnqueues counts accepted enqueues by queue name.
	QueueEnqueues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpals_queue_enqueues_total",
		Help: "Items accepted into a pipeline queue.",
	}, []string{"queue"})

	// QueueClaims counts successful claims by queue name.
	QueueClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpals_queue_claims_total",
		Help: "Items atomically claimed from a pipeline queue.",
	}, []string{"queue"})

	// StaleClaimsRecovered counts jobs requeued by stale-claim recovery.
	StaleClaimsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushpals_stale_claims_recovered_total",
		Help: "Claimed jobs returned to pending after their worker disappeared.",
	})
)
