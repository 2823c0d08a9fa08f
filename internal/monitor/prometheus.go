package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal        *prometheus.CounterVec
	retriesTotal         prometheus.Counter
	sessionsCreatedTotal prometheus.Counter
	browserRequestsTotal *prometheus.CounterVec
	responseSeconds      prometheus.Histogram

	once sync.Once
)

// initCollectors registers the Prometheus collectors.
// It is safe to call multiple times.
func initCollectors() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmfetch_requests_total",
				Help: "Total fetch attempts, labeled by outcome classification.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmfetch_retries_total",
				Help: "Total retries performed beyond the first attempt.",
			},
		)

		sessionsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmfetch_sessions_created_total",
				Help: "Total sessions created by the session pool.",
			},
		)

		browserRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmfetch_browser_requests_total",
				Help: "Total browser-fallback renders, labeled by result.",
			},
			[]string{"result"},
		)

		responseSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tmfetch_response_seconds",
				Help:    "Histogram of upstream response latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
