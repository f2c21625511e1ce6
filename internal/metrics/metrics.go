// Package metrics holds the prometheus collectors of the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Write results recorded in StoreWrites.
const (
	WriteOK       = "ok"
	WriteConflict = "conflict"
	WriteError    = "error"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsondb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Counter of handled HTTP requests.",
		}, []string{"route", "code"})

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jsondb",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Bucketed histogram of HTTP request handling time.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"route"})

	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsondb",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Counter of set operations by result.",
		}, []string{"result"})

	StoreDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jsondb",
			Subsystem: "store",
			Name:      "deletes_total",
			Help:      "Counter of keys deleted.",
		})

	StoreKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jsondb",
			Subsystem: "store",
			Name:      "keys",
			Help:      "Number of keys in the in-memory index.",
		})

	StoreLoadSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jsondb",
			Subsystem: "store",
			Name:      "load_skipped_total",
			Help:      "Counter of entries skipped while loading from disk.",
		})
)

func init() {
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(StoreWrites)
	prometheus.MustRegister(StoreDeletes)
	prometheus.MustRegister(StoreKeys)
	prometheus.MustRegister(StoreLoadSkipped)
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
