package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_transitions_total",
		Help: "Offer and task transitions by kind and outcome.",
	}, []string{"kind", "outcome"})
	offersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_created_total",
		Help: "Offers created by the scheduler.",
	})
	schedulingMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_scheduling_misses_total",
		Help: "Scheduling attempts that found no eligible designer.",
	})
	creditReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_credit_reservations_total",
		Help: "Credit reservations by outcome.",
	}, []string{"outcome"})
	confirmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_offer_confirm_seconds",
		Help:    "Time from offer to confirmation.",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 240, 300},
	})
)

func observeTransition(kind string, err error) {
	transitionsTotal.WithLabelValues(kind, Kind(err)).Inc()
}
