// Package monitoring 提供服务指标
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studentperf"

// Outcome 请求结果标签
const (
	OutcomeOK           = "ok"
	OutcomeSchemaError  = "schema_error"
	OutcomeParseError   = "parse_error"
	OutcomeMalformed    = "malformed"
	OutcomeServerError  = "error"
	ReloadOutcomeOK     = "ok"
	ReloadOutcomeFailed = "failed"
)

// Metrics 推理服务指标
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	rows          *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	reloads       *prometheus.CounterVec
	modelTrees    prometheus.Gauge
	modelLoadedAt prometheus.Gauge
}

// NewMetrics 在给定注册表上创建指标，reg为nil时新建注册表
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_requests_total",
			Help:      "Prediction requests by entry point and outcome.",
		}, []string{"endpoint", "outcome"}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_rows_total",
			Help:      "Rows labelled, by predicted label.",
		}, []string{"label"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Duration of a prediction batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5},
		}, []string{"endpoint"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_hits_total",
			Help:      "Rows answered from the prediction cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_misses_total",
			Help:      "Rows that required a model evaluation.",
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Artifact reload attempts by outcome.",
		}, []string{"outcome"}),
		modelTrees: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trees",
			Help:      "Number of trees in the serving model.",
		}),
		modelLoadedAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded_timestamp_seconds",
			Help:      "Unix time the serving model was installed.",
		}),
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回/metrics处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest 记录一次预测请求
func (m *Metrics) ObserveRequest(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveLabels 按预测标签计数
func (m *Metrics) ObserveLabels(labels []string) {
	if m == nil {
		return
	}
	for _, label := range labels {
		m.rows.WithLabelValues(label).Inc()
	}
}

// ObserveCache 记录缓存命中与未命中
func (m *Metrics) ObserveCache(hits, misses int) {
	if m == nil {
		return
	}
	m.cacheHits.Add(float64(hits))
	m.cacheMisses.Add(float64(misses))
}

// ObserveReload 记录模型重载
func (m *Metrics) ObserveReload(outcome string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(outcome).Inc()
}

// SetModel 记录当前模型信息
func (m *Metrics) SetModel(trees int, loadedAt time.Time) {
	if m == nil {
		return
	}
	m.modelTrees.Set(float64(trees))
	m.modelLoadedAt.Set(float64(loadedAt.Unix()))
}
