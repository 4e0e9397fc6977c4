package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepVerdictCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderator_sweep_verdicts",
	Help: "Number of sweep target evaluations, by verdict",
}, []string{"verdict"})

var sweepActionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderator_sweep_actions",
	Help: "Number of removal action outcomes",
}, []string{"outcome"})
