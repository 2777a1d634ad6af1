package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(creditReservationsTotal, creditsSpentTotal)
}

var (
	creditReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_reservations_total",
			Help: "Credit reservation outcomes.",
		},
		[]string{"outcome"}, // 'reserved', 'rejected', 'consumed', 'released'
	)

	creditsSpentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_spent_total",
			Help: "Total credits deducted from user balances.",
		},
	)
)

func IncReservation(outcome string) {
	creditReservationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddCreditsSpent(amount int64) {
	if amount > 0 {
		creditsSpentTotal.Add(float64(amount))
	}
}
