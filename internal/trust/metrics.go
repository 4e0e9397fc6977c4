package trust

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var trustSetSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moderator_trust_set_size",
	Help: "Number of members in the current trust set",
})

var trustRefreshCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderator_trust_refreshes",
	Help: "Number of trust set refresh attempts",
}, []string{"status"})
