package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation shared by a builder,
// searcher, and chunk store instance.
type Metrics struct {
	VectorInserts prometheus.Counter
	VectorTombstone prometheus.Counter
	SearchQueries prometheus.Counter
	SearchErrors prometheus.Counter
	SearchLatency prometheus.Histogram
	InsertLatency prometheus.Histogram
	ChunkBytes prometheus.Gauge
	ChunkCount prometheus.Gauge
}

// NewMetrics creates and registers a fresh Metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		VectorInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zvec_vector_inserts_total",
			Help: "Total number of vectors added to an index.",
		}),
		VectorTombstone: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zvec_vector_tombstones_total",
			Help: "Total number of keys marked deleted (tombstoned).",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zvec_search_queries_total",
			Help: "Total number of search queries executed.",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zvec_search_errors_total",
			Help: "Total number of search queries that returned an error.",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "zvec_search_latency_seconds",
			Help: "Latency of search queries.",
			Buckets: prometheus.DefBuckets,
		}),
		InsertLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "zvec_insert_latency_seconds",
			Help: "Latency of vector insert operations.",
			Buckets: prometheus.DefBuckets,
		}),
		ChunkBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zvec_chunk_store_bytes",
			Help: "Resident bytes held by the chunk store.",
		}),
		ChunkCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zvec_chunk_store_chunks",
			Help: "Number of allocated chunks across all segments.",
		}),
	}
}
