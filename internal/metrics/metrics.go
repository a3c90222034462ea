// Package metrics holds the prometheus collectors of the signing service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClaimsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signer_claims_received_total",
		Help: "Total claim messages received on the claim room",
	})

	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signer_rounds_total",
			Help: "Total signing rounds by final state and abort reason",
		},
		[]string{"state", "reason"},
	)

	CurrentRoundIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signer_round_index",
		Help: "Index of the most recent signing round",
	})

	PhaseSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signer_phase_seconds",
			Help:    "Duration of each round phase",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signer_submissions_total",
			Help: "Total signature submissions by result",
		},
		[]string{"result"},
	)

	TransportMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signer_transport_messages_total",
			Help: "Room messages by transport, direction and result",
		},
		[]string{"transport", "direction", "result"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
