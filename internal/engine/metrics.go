package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CommitDivergence counts commits where the durable decrement succeeded but
// the local settle step exhausted its retries, leaving reserved temporarily
// overstated until the hold expires. Operators alert on this.
var CommitDivergence = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stockhold_commit_divergence_total",
	Help: "Number of commits that decremented durable stock but failed to settle the local hold.",
})
