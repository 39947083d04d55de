// Package observability holds the Prometheus metrics of the tile pipeline.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	FetchOK          = "ok"
	FetchUnavailable = "unavailable"
	FetchBadTile     = "schema_violation"
	FetchNetwork     = "network_error"
)

// Segment match outcomes.
const (
	MatchHit       = "matched"
	MatchMiss      = "miss"
	MatchDiscarded = "discarded"
)

// Pipeline run outcomes.
const (
	RunApplied = "applied"
	RunStale   = "stale"
	RunError   = "error"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	tileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtile_fetch_total",
			Help: "Speed tile requests by outcome.",
		},
		[]string{"outcome"},
	)

	tileCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtile_cache_results_total",
			Help: "Tile cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	tileCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speedtile_cache_entries",
			Help: "Number of (level, index) entries held in the tile cache.",
		},
	)

	segmentMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_match_total",
			Help: "Segment id lookups by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Route annotation runs by outcome.",
		},
		[]string{"outcome"},
	)
)

// Collectors returns the request and pipeline metrics of this package, for
// registries other than the default one. Build info is left out; a custom
// registry carries its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		tileFetches,
		tileCacheResults,
		tileCacheEntries,
		segmentMatches,
		pipelineRuns,
	}
}

// Init registers the package metrics on reg. Already registered collectors
// are skipped.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncTileFetch(outcome string) {
	tileFetches.WithLabelValues(outcome).Inc()
}

func AddTileCacheHits(n int) {
	if n > 0 {
		tileCacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddTileCacheMisses(n int) {
	if n > 0 {
		tileCacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func SetTileCacheEntries(n int) {
	tileCacheEntries.Set(float64(n))
}

func AddSegmentMatches(outcome string, n int) {
	if n > 0 {
		segmentMatches.WithLabelValues(outcome).Add(float64(n))
	}
}

func IncPipelineRun(outcome string) {
	pipelineRuns.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
