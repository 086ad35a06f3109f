package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

var (
	// IssueCouponDuration tracks the latency of coupon issuance
	IssueCouponDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_issue_duration_seconds",
			Help:    "Duration of coupon issuance requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"outcome"}, // issued, sold_out, not_issuable, busy, conflict, error
	)

	// BenefitAccumulations counts monthly benefit updates by outcome
	BenefitAccumulations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benefit_accumulations_total",
			Help: "Number of monthly benefit accumulation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LockAttempts counts try-acquire attempts by result
	LockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_attempts_total",
			Help: "Number of lock acquisition attempts by result",
		},
		[]string{"result"}, // acquired, busy, canceled, error
	)

	// LockHoldDuration tracks how long critical sections hold a lock
	LockHoldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lock_hold_duration_seconds",
			Help:    "Time a lock was held by a critical section in seconds",
			Buckets: latencyBuckets,
		},
	)
)

// RecordIssueCouponDuration records the duration of a coupon issuance request
func RecordIssueCouponDuration(outcome string, duration float64) {
	IssueCouponDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordBenefitAccumulation counts one accumulation attempt
func RecordBenefitAccumulation(outcome string) {
	BenefitAccumulations.WithLabelValues(outcome).Inc()
}

// RecordLockAttempt counts one try-acquire attempt
func RecordLockAttempt(result string) {
	LockAttempts.WithLabelValues(result).Inc()
}

// RecordLockHold records how long a lock was held
func RecordLockHold(duration float64) {
	LockHoldDuration.Observe(duration)
}
