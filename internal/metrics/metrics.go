package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatdoc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "chat",
			Name:      "tokens_total",
			Help:      "Tokens consumed by completion calls",
		},
		[]string{"model", "kind"},
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "chat",
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated completion cost in USD",
		},
		[]string{"model"},
	)

	UsageWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "chat",
			Name:      "usage_warnings_total",
			Help:      "Completion calls crossing a usage threshold",
		},
		[]string{"kind"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "chat",
			Name:      "provider_errors_total",
			Help:      "Failed completion calls",
		},
		[]string{"retryable"},
	)

	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "documents",
			Name:      "ingested_total",
			Help:      "Document ingestion attempts",
		},
		[]string{"status"},
	)

	ChunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "documents",
			Name:      "chunks_indexed_total",
			Help:      "Chunks handed to the vector index",
		},
	)

	ChunkDeletionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "documents",
			Name:      "chunk_deletion_failures_total",
			Help:      "Vector index deletions that failed after the document record was removed",
		},
	)

	DeletionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "worker",
			Name:      "deletion_retries_total",
			Help:      "Chunk deletion retry jobs processed",
		},
		[]string{"status"},
	)

	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatdoc",
			Subsystem: "embedding",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache lookups",
		},
		[]string{"result"},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatdoc",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
)

func RecordRequest(method, endpoint, status string, seconds float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

func RecordTokens(model string, prompt, completion int) {
	TokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	TokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

func RecordCost(model string, usd float64) {
	CostUSD.WithLabelValues(model).Add(usd)
}

func RecordUsageWarning(kind string) {
	UsageWarnings.WithLabelValues(kind).Inc()
}

func RecordProviderError(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	ProviderErrors.WithLabelValues(label).Inc()
}

func RecordIngestion(status string, chunks int) {
	DocumentsIngested.WithLabelValues(status).Inc()
	if status == "success" {
		ChunksIndexed.Add(float64(chunks))
	}
}

func RecordChunkDeletionFailure() {
	ChunkDeletionFailures.Inc()
}

func RecordDeletionRetry(status string) {
	DeletionRetries.WithLabelValues(status).Inc()
}

func RecordEmbeddingCache(hit bool) {
	if hit {
		EmbeddingCache.WithLabelValues("hit").Inc()
		return
	}
	EmbeddingCache.WithLabelValues("miss").Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
