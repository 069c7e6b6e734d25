// Package metrics defines the Prometheus collectors for chat and indexing.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guidechat"

// Metrics holds every collector the service exports.
type Metrics struct {
	chatRequests      *prometheus.CounterVec
	chunksStreamed    prometheus.Counter
	timeToFirstChunk  prometheus.Histogram
	activeStreams     prometheus.Gauge
	clientDisconnects prometheus.Counter
	reindexTotal      *prometheus.CounterVec
	reindexDuration   prometheus.Histogram
	embedFallbacks    prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by audience and terminal result code",
		}, []string{"audience", "code"}),
		chunksStreamed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_chunks_streamed_total",
			Help:      "Response chunks sent to clients",
		}),
		timeToFirstChunk: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_time_to_first_chunk_seconds",
			Help:      "Time from request start to the first streamed chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_active_streams",
			Help:      "Chat streams currently open",
		}),
		clientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_client_disconnects_total",
			Help:      "Chat streams abandoned by the client before the terminal event",
		}),
		reindexTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_total",
			Help:      "Guide reindex runs by result",
		}, []string{"result"}),
		reindexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reindex_duration_seconds",
			Help:      "Duration of guide reindex runs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		embedFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batch_fallbacks_total",
			Help:      "Embedding batches retried item by item",
		}),
	}
}

// ChatFinished counts one chat request with its terminal code ("ok" on success).
func (m *Metrics) ChatFinished(audience, code string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(audience, code).Inc()
}

// ChunkStreamed counts one streamed chunk.
func (m *Metrics) ChunkStreamed() {
	if m == nil {
		return
	}
	m.chunksStreamed.Inc()
}

// FirstChunk observes the latency to the first chunk.
func (m *Metrics) FirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.timeToFirstChunk.Observe(d.Seconds())
}

// StreamOpened increments the active stream gauge; call the returned func when it closes.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

// ClientDisconnected counts a stream the client abandoned.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clientDisconnects.Inc()
}

// Reindexed records one reindex run.
func (m *Metrics) Reindexed(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reindexTotal.WithLabelValues(result).Inc()
	m.reindexDuration.Observe(d.Seconds())
}

// EmbeddingFallback counts one batch that fell back to per-item requests.
func (m *Metrics) EmbeddingFallback() {
	if m == nil {
		return
	}
	m.embedFallbacks.Inc()
}
