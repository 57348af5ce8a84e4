// Package metrics provides Prometheus metrics for remote access and the
// data set cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zm_remote_requests_total",
			Help: "Total number of remote API calls",
		},
		[]string{"op", "result"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zm_remote_request_duration_seconds",
			Help:    "Remote API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zm_cache_lookups_total",
			Help: "Content reads served from cache or fetched from the remote",
		},
		[]string{"result"},
	)

	writeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zm_write_conflicts_total",
			Help: "Writes rejected by the remote because of a stale etag",
		},
	)

	moveItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zm_move_items_total",
			Help: "Items processed by move and copy operations",
		},
		[]string{"op", "result"},
	)
)

// RecordRemoteCall records the outcome of one remote API call.
func RecordRemoteCall(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteRequestsTotal.WithLabelValues(op, result).Inc()
	remoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordCacheHit records a read served from cached bytes.
func RecordCacheHit() {
	cacheLookupsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a read that went to the remote.
func RecordCacheMiss() {
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordConflict records an etag precondition failure.
func RecordConflict() {
	writeConflictsTotal.Inc()
}

// RecordItem records one item of a move or copy batch.
func RecordItem(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	moveItemsTotal.WithLabelValues(op, result).Inc()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
