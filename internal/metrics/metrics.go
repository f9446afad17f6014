package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Acquisition Prometheus metrics.
var (
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagebar",
			Name:      "fetch_total",
			Help:      "Total number of usage fetch attempts per strategy",
		},
		[]string{"provider", "strategy", "result"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "usagebar",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a full provider refresh in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"provider"},
	)

	PTYSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagebar",
			Name:      "pty_sessions_total",
			Help:      "PTY sessions by how they ended",
		},
		[]string{"outcome"}, // stopped, idle, exited, timed_out, cancelled
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagebar",
			Name:      "token_refresh_total",
			Help:      "OAuth token refresh attempts",
		},
		[]string{"result"},
	)

	FailuresSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagebar",
			Name:      "failures_suppressed_total",
			Help:      "Fetch failures absorbed by the consecutive-failure gate",
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// Register registers the metrics with the default registerer. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(FetchTotal)
		prometheus.MustRegister(FetchDuration)
		prometheus.MustRegister(PTYSessionsTotal)
		prometheus.MustRegister(TokenRefreshTotal)
		prometheus.MustRegister(FailuresSuppressedTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRequestsTotal)
	})
}
