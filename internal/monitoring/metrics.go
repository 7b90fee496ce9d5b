// Package monitoring exposes Prometheus metrics for the booking core.
// Metrics are registered on the default registry and served at /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reserveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_reserve_attempts_total",
			Help: "Reserve calls by outcome (created, replayed, conflict, error)",
		},
		[]string{"outcome"},
	)

	seatConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_seat_conflicts_total",
			Help: "Seats that blocked an acquisition because another party held them",
		},
	)

	leasesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_leases_expired_total",
			Help: "Leases reaped by the expiry sweeper",
		},
	)

	webhooksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_webhooks_processed_total",
			Help: "Payment webhooks by result (confirmed, cancelled, replay, error)",
		},
		[]string{"result"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep cycle",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	pendingBookings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_pending_total",
			Help: "Bookings currently in PENDING state",
		},
	)
)

// ReserveOutcome counts one reserve call with the given outcome label.
func ReserveOutcome(outcome string) { reserveAttempts.WithLabelValues(outcome).Inc() }

// SeatConflicts counts seats that caused an acquisition conflict.
func SeatConflicts(n int) { seatConflicts.Add(float64(n)) }

// LeasesExpired counts leases reaped by the sweeper.
func LeasesExpired(n int) { leasesExpired.Add(float64(n)) }

// WebhookResult counts one processed webhook delivery.
func WebhookResult(result string) { webhooksProcessed.WithLabelValues(result).Inc() }

// ObserveSweep records the duration of one sweep cycle in seconds.
func ObserveSweep(seconds float64) { sweepDuration.Observe(seconds) }

// SetPendingBookings sets the PENDING bookings gauge.
func SetPendingBookings(n int) { pendingBookings.Set(float64(n)) }
