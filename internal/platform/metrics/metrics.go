package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

// Namespace はすべてのメトリクス名の接頭辞
const Namespace = "studyrag"

// Metrics は Prometheus のメトリクスを保持し、コアサービスのオブザーバーを実装する
type Metrics struct {
	retrievalTier      *prometheus.CounterVec
	retrievalResults   prometheus.Histogram
	generationAttempts *prometheus.CounterVec
	generationFallback prometheus.Counter
	reconciledSegments *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New は専用レジストリにメトリクスを登録した Metrics を返す
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.retrievalTier = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retrieval_tier_total",
			Help:      "Number of retrievals by the tier that produced the result",
		},
		[]string{"tier"},
	)
	m.retrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "retrieval_results",
			Help:      "Number of documents returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)
	m.generationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generation_attempts_total",
			Help:      "Number of generation attempts by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	m.generationFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generation_fallback_total",
			Help:      "Number of turns answered with the synthesized fallback response",
		},
	)
	m.reconciledSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconciled_segments_total",
			Help:      "Number of response segments by reconciliation action",
		},
		[]string{"action"},
	)
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(
		m.retrievalTier,
		m.retrievalResults,
		m.generationAttempts,
		m.generationFallback,
		m.reconciledSegments,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry は登録先のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRetrievalTier(tier string, results int) {
	m.retrievalTier.WithLabelValues(tier).Inc()
	m.retrievalResults.Observe(float64(results))
}

func (m *Metrics) ObserveGenerationAttempt(model, outcome string) {
	m.generationAttempts.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) ObserveGenerationFallback() {
	m.generationFallback.Inc()
}

func (m *Metrics) ObserveReconciledSegment(action string) {
	m.reconciledSegments.WithLabelValues(action).Inc()
}

// Middleware はHTTPリクエスト数とレイテンシを記録する
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler は /metrics の公開ハンドラーを返す
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

var (
	_ retrieval.TierObserver = (*Metrics)(nil)
	_ answer.Observer        = (*Metrics)(nil)
)
