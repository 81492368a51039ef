package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corpus"

// Collector 语料库指标收集器，使用独立的registry
type Collector struct {
	registry *prometheus.Registry

	ingestedChunks   *prometheus.CounterVec
	ingestErrors     *prometheus.CounterVec
	searches         prometheus.Counter
	prompts          *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	stateConnections *prometheus.GaugeVec
}

// NewCollector 创建并注册指标
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		ingestedChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_chunks_total",
				Help:      "Number of chunks written to the vector store",
			},
			[]string{"doc_set"},
		),
		ingestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_errors_total",
				Help:      "Number of failed ingestion runs by error code",
			},
			[]string{"kind"},
		),
		searches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_total",
				Help:      "Number of similarity searches",
			},
		),
		prompts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompts_total",
				Help:      "Number of prompts answered",
			},
			[]string{"status"},
		),
		providerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of embeddings, vector store and LLM calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		stateConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_db_connections",
				Help:      "State database connections in different states",
			},
			[]string{"state"},
		),
	}
}

// RegisterRuntime 注册Go运行时和进程指标
func (c *Collector) RegisterRuntime() {
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry 底层registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回指标的HTTP处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveChunks(docSet string, n int) {
	c.ingestedChunks.WithLabelValues(docSet).Add(float64(n))
}

func (c *Collector) ObserveIngestError(kind string) {
	c.ingestErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveSearch() {
	c.searches.Inc()
}

func (c *Collector) ObservePrompt(status string) {
	c.prompts.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveProviderCall(provider, operation string, d time.Duration) {
	c.providerDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// CollectDBStats 记录状态库连接池统计
func (c *Collector) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	c.stateConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	c.stateConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	c.stateConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
}
