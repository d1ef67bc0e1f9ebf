// Package metrics holds the Prometheus collectors shared by the server and
// the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkdrop_sessions_total",
			Help: "Chunked upload sessions that reached a terminal state, by outcome.",
		},
		[]string{"outcome"},
	)

	chunksUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkdrop_chunks_uploaded_total",
		Help: "Chunks accepted by the object store and recorded.",
	})

	chunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkdrop_chunk_bytes_total",
		Help: "Bytes received through chunk uploads.",
	})

	directUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkdrop_direct_uploads_total",
			Help: "Direct uploads by outcome.",
		},
		[]string{"outcome"},
	)

	orphansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkdrop_orphans_total",
			Help: "Objects left without a file record, by the operation that leaked them.",
		},
		[]string{"source"},
	)

	orphansDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkdrop_orphans_deleted_total",
			Help: "Orphaned objects removed by the worker, by trigger.",
		},
		[]string{"trigger"},
	)

	// HTTPRequests counts requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkdrop_http_requests_total",
			Help: "HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes request latency by method and route pattern.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkdrop_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Collector adapts the package counters to upload.Observer.
type Collector struct{}

func (Collector) SessionFinished(outcome string) { sessionsTotal.WithLabelValues(outcome).Inc() }

func (Collector) ChunkStored(bytes int64) {
	chunksUploaded.Inc()
	chunkBytes.Add(float64(bytes))
}

func (Collector) DirectUpload(outcome string) { directUploads.WithLabelValues(outcome).Inc() }

func (Collector) OrphanReported(source string) { orphansTotal.WithLabelValues(source).Inc() }

// OrphanDeleted records a cleanup performed by the worker.
func OrphanDeleted(trigger string) { orphansDeleted.WithLabelValues(trigger).Inc() }
