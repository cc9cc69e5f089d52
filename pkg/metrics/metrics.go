// Package metrics holds the Prometheus collectors for harvest runs.
//
// Collectors are registered on the default registry through promauto:
//   - tsscraper_pages_saved_total (Counter): pages persisted
//   - tsscraper_items_saved_total (Counter): items persisted by the main loop
//   - tsscraper_reconciled_items_total (Counter): items prepended by catch-up
//   - tsscraper_fetch_duration_seconds (Histogram): page fetch latency
//   - tsscraper_retries_total{policy} (Counter): retry attempts
//   - tsscraper_retry_exhausted_total (Counter): operations that ran out of retries
//   - tsscraper_runs_total{reason} (Counter): finished runs by stop reason
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer the collectors below are attached to.
var Registry = prometheus.DefaultRegisterer

var (
	PagesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsscraper_pages_saved_total",
		Help: "Total number of pages persisted",
	})

	ItemsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsscraper_items_saved_total",
		Help: "Total number of items persisted by the harvest loop",
	})

	ReconciledItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsscraper_reconciled_items_total",
		Help: "Total number of newer items prepended by catch-up passes",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsscraper_fetch_duration_seconds",
		Help:    "Duration of page fetches including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
	})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsscraper_retries_total",
		Help: "Total number of retry attempts by retry policy",
	}, []string{"policy"})

	RetryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsscraper_retry_exhausted_total",
		Help: "Total number of operations that exhausted their retries",
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsscraper_runs_total",
		Help: "Total number of harvest runs by stop reason",
	}, []string{"reason"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
