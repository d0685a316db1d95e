// Package dispatch runs the delivery side of the scheduling engine: the
// polling dispatcher that sends due reminder entries, the retry/backoff
// policy, and the periodic sweep that unsticks stalled conditions.
//
// This file declares the Prometheus collectors for outbound delivery. Labels
// are kept low-cardinality on purpose:
//
//   - type:    reminder vs final_delivery
//   - result:  sent / retried / failed / cancelled
package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveryAttempts counts every dispatch outcome per entry type.
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_dispatch_total",
			Help: "Total number of reminder dispatch outcomes.",
		},
		[]string{"type", "result"},
	)

	// dispatchLat records the wall time of a single Sender.Send call.
	dispatchLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_send_duration_seconds",
			Help:    "Duration of outbound reminder send attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// duePending gauges how many entries were due at the last tick, a direct
	// backlog signal for alerting.
	duePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_due_pending",
			Help: "Number of due pending entries observed at the last dispatch tick.",
		},
	)

	// sweepRecovered counts conditions re-reconciled by the stuck sweep.
	sweepRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_sweep_recovered_total",
			Help: "Total number of stuck conditions recovered by the sweep job.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryAttempts, dispatchLat, duePending, sweepRecovered)
}
