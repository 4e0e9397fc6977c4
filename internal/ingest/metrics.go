package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingestEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderator_ingest_events",
	Help: "Number of report events processed, by outcome",
}, []string{"result"})
