package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks the latency of competition RPCs
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "competition_request_duration_seconds",
			Help: "Duration of competition requests in seconds",
			Buckets: []float64{
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
			},
		},
		[]string{"procedure", "status"}, // status is success or a connect code
	)

	// RewardsIssued counts newly appended reward transactions
	RewardsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "competition_rewards_issued_total",
			Help: "Reward transactions appended to the ledger",
		},
		[]string{"unit"},
	)

	// VotesRejected counts votes refused by the voting rules
	VotesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "competition_votes_rejected_total",
			Help: "Votes rejected by reason",
		},
		[]string{"reason"},
	)

	// Rotations counts completed window closes
	Rotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "competition_rotations_total",
			Help: "Closed competition windows by outcome",
		},
		[]string{"outcome"}, // winner or no_winner
	)

	// TriggerAuthFailures counts rejected calls to protected procedures
	TriggerAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "competition_trigger_auth_failures_total",
			Help: "Protected calls rejected for an invalid credential",
		},
	)

	// BalanceApplied counts reward transactions applied to balances
	BalanceApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "competition_balance_applied_total",
			Help: "Reward transactions applied to user balances",
		},
	)
)

// RecordRequestDuration records the duration of a competition request
func RecordRequestDuration(procedure, status string, duration float64) {
	RequestDuration.WithLabelValues(procedure, status).Observe(duration)
}
