// Package metrics exposes Prometheus instrumentation for the flow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts fresh cache reads.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riverflow_cache_hits_total",
		Help: "Total number of fresh timeline cache hits",
	})

	// CacheMisses counts reads that fell through to a fetch.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riverflow_cache_misses_total",
		Help: "Total number of timeline cache misses",
	})

	// StaleServes counts expired entries served to callers, whether during
	// background revalidation or a source outage.
	StaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riverflow_cache_stale_serves_total",
		Help: "Total number of expired cache entries served stale",
	})

	// FetchesTotal counts upstream fetch attempts by outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riverflow_fetches_total",
		Help: "Total number of upstream gauge fetches",
	}, []string{"outcome"})

	// UpdatesPublished counts change events fanned out to subscribers.
	UpdatesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riverflow_updates_published_total",
		Help: "Total number of station updates published to subscribers",
	})

	// RefreshDuration observes end-to-end refresh latency per station.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riverflow_refresh_duration_seconds",
		Help:    "Station refresh latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// RequestsTotal counts HTTP API requests.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riverflow_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"endpoint", "method", "status"})

	// RequestDuration observes HTTP API latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riverflow_http_request_duration_seconds",
		Help:    "HTTP API request duration in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"endpoint", "method"})
)

const (
	// OutcomeOK labels successful fetches.
	OutcomeOK = "ok"
	// OutcomeError labels failed fetches.
	OutcomeError = "error"
	// OutcomeEmpty labels fetches that returned no data.
	OutcomeEmpty = "empty"
)
