package reaper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HoldsReleased counts holds the reaper released after expiry.
	HoldsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reaper_holds_released_total",
		Help: "Number of expired holds released by the reaper.",
	})

	// SweepErrors counts sweeps aborted by a store error.
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reaper_sweep_errors_total",
		Help: "Number of reaper sweeps that failed.",
	})
)
