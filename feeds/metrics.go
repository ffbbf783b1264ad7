package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var strategyWins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rssagg_feed_fetch_wins_total",
	Help: "Successful feed fetches by strategy and candidate",
}, []string{"strategy", "candidate"})
