package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookingcore"

var (
	once sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking state machine operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refundedAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_minor_units_total",
			Help:      "Refunded money in minor units by currency.",
		},
		[]string{"currency"},
	)

	reaperSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_bookings_total",
			Help:      "Bookings visited by background sweeps by worker and result.",
		},
		[]string{"worker", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(transitions, refunds, refundedAmount, reaperSweeps, httpRequests)
	})
}

func IncTransition(op, outcome string) {
	transitions.WithLabelValues(op, outcome).Inc()
}

func IncRefund(outcome string) {
	refunds.WithLabelValues(outcome).Inc()
}

func AddRefunded(currency string, amount int64) {
	if amount > 0 {
		refundedAmount.WithLabelValues(currency).Add(float64(amount))
	}
}

func AddSweep(worker, result string, n int) {
	if n > 0 {
		reaperSweeps.WithLabelValues(worker, result).Add(float64(n))
	}
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
