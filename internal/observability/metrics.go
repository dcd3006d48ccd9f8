package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "Catalog sync runs by outcome",
		},
		[]string{"outcome"},
	)
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_records_total",
			Help: "Records handled by the upsert coordinator by result",
		},
		[]string{"result"},
	)
	SyncSkippedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_sync_skipped_rows_total",
			Help: "Malformed spreadsheet rows skipped during sync",
		},
	)
	SyncBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_sync_batch_duration_seconds",
			Help:    "Duration of one upsert batch",
			Buckets: prometheus.DefBuckets,
		},
	)
	SourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_source_fetches_total",
			Help: "Spreadsheet fetches by outcome",
		},
		[]string{"outcome"},
	)
	ReconcileDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_reconcile_discrepancies",
			Help: "Stage pairs whose counts differ beyond tolerance in the last diagnostic",
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	registerOnce sync.Once
)

// Register adds the catalog collectors to the default registry. It is safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SyncRuns,
			SyncRecords,
			SyncSkippedRows,
			SyncBatchDuration,
			SourceFetches,
			ReconcileDiscrepancies,
			HTTPRequests,
		)
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
