package querier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeOK          = "ok"
	outcomeUnreachable = "unreachable"
	outcomeBadStatus   = "bad_status"
	outcomeDecodeError = "decode_error"
)

var (
	coreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrecipes_core_requests_total",
			Help: "Requests sent to the auth core, by method, path and outcome.",
		},
		[]string{"method", "path", "outcome"},
	)

	coreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authrecipes_core_request_duration_seconds",
			Help:    "Latency of requests to the auth core.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
