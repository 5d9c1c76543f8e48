package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var msBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000}

var (
	SuggestRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_suggest_requests_total",
		Help: "Suggestion aggregations by category filter",
	}, []string{"category"})
	SuggestShortTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosearch_suggest_short_total",
		Help: "Queries rejected before any lookup because they were too short",
	})
	SuggestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geosearch_suggest_duration_ms",
		Help:    "Suggestion aggregation duration in milliseconds",
		Buckets: msBuckets,
	})
	SuggestEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosearch_suggest_empty_total",
		Help: "Aggregations that produced no suggestions",
	})
	SuggestDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosearch_suggest_dropped_invalid_total",
		Help: "Suggestions dropped for out-of-range coordinates",
	})
	StaleDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosearch_stale_discarded_total",
		Help: "Results discarded because a newer request superseded them",
	})
	GeocoderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_geocoder_requests_total",
		Help: "Geocoding provider requests by operation",
	}, []string{"op"})
	GeocoderFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_geocoder_fail_total",
		Help: "Geocoding provider failures by operation",
	}, []string{"op"})
	GeocoderDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geosearch_geocoder_duration_ms",
		Help:    "Geocoding provider call duration in milliseconds",
		Buckets: msBuckets,
	}, []string{"op"})
	GeocodeCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_geocode_cache_total",
		Help: "Geocode cache lookups by tier and result",
	}, []string{"tier", "result"})
	BoundaryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_boundary_total",
		Help: "Boundary resolutions by outcome (polygon, circle, none, error, stale)",
	}, []string{"outcome"})
	BulkMarkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geosearch_bulk_markers",
		Help: "Bulk markers currently on the map by kind",
	}, []string{"kind"})
	HistoryCorruptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosearch_history_corrupt_total",
		Help: "Persisted history payloads reset because they could not be parsed",
	})
	DirectoryRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosearch_directory_refresh_total",
		Help: "Entity index refreshes by status",
	}, []string{"status"})
	DirectoryEntities = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geosearch_directory_entities",
		Help: "Entities in the current index snapshot by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		SuggestRequestsTotal,
		SuggestShortTotal,
		SuggestDurationMs,
		SuggestEmptyTotal,
		SuggestDroppedTotal,
		StaleDiscardedTotal,
		GeocoderRequestsTotal,
		GeocoderFailTotal,
		GeocoderDurationMs,
		GeocodeCacheTotal,
		BoundaryTotal,
		BulkMarkers,
		HistoryCorruptTotal,
		DirectoryRefreshTotal,
		DirectoryEntities,
	)
}

// 文档注释：Prometheus 抓取端点
// 背景：由外壳挂载到 API_BASE/metrics。
func Handler() http.Handler { return promhttp.Handler() }
