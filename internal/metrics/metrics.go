package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: cache lookups by stage partition and result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_lookups_total",
			Help: "Pipeline cache lookups by partition (pipeline, fragment, nonfragment, module) and result.",
		},
		[]string{"partition", "result"},
	)

	// Counter: blob-store backend hits (disk, redis).
	BlobHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_store_hits_total",
			Help: "Blob store hits by backend.",
		},
		[]string{"backend"},
	)

	// Counter: ELF merges performed for split-cache compiles.
	ElfMergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "elf_merges_total",
			Help: "Total number of partial-pipeline ELF merges.",
		},
	)

	// Histogram: backend compile duration in seconds.
	CompileDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_duration_seconds",
			Help:    "Pipeline compile duration in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind"}, // graphics | compute | module
	)

	// Gauge: contexts resident in the compile context pool.
	ContextPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compile_context_pool_size",
			Help: "Number of compile contexts resident in the pool.",
		},
	)

	// Histogram: compile-service HTTP latency in seconds.
	ServiceLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_latency_seconds",
			Help:    "HTTP request latency for the compile service in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		BlobHitsTotal,
		ElfMergesTotal,
		CompileDurationSeconds,
		ContextPoolSize,
		ServiceLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures service latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		ServiceLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
