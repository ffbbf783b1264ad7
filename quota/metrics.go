package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rssagg_guest_quota_consumes_total",
	Help: "Guest reads counted against the quota by result",
}, []string{"result"})
