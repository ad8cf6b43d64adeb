// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 generation.Recorder
type Collector struct {
	// 队列指标
	queueActive prometheus.Gauge
	queueLength prometheus.Gauge
	queueLimit  prometheus.Gauge

	// 生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	// 模型列表
	modelListTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 队列指标
	c.queueActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active_requests",
			Help:      "Requests admitted to the executor and not yet settled",
		},
	)

	c.queueLength = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Requests waiting for admission",
		},
	)

	c.queueLimit = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_max_concurrency",
			Help:      "Current admission limit",
		},
	)

	// 生成指标
	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Settled generation requests by outcome",
		},
		[]string{"outcome"},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Executor time per generation request",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 240, 600},
		},
		[]string{"outcome"},
	)

	c.modelListTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_list_requests_total",
			Help:      "Model list requests by status",
		},
		[]string{"status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"driver"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"driver"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// ObserveQueue 记录队列快照
func (c *Collector) ObserveQueue(active, queued, max int) {
	c.queueActive.Set(float64(active))
	c.queueLength.Set(float64(queued))
	c.queueLimit.Set(float64(max))
}

// RecordGeneration 记录一次结算
func (c *Collector) RecordGeneration(outcome string, duration time.Duration) {
	c.generationsTotal.WithLabelValues(outcome).Inc()
	c.generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordModelList 记录模型列表请求
func (c *Collector) RecordModelList(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.modelListTotal.WithLabelValues(status).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(driver string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(driver).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(driver).Set(float64(idle))
}
