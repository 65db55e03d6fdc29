// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/agentcoord/agent/collaboration"
	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/agent/summarizer"
	"github.com/BaSui01/agentcoord/llm/embedding"
	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法对 nil 接收者安全。
type Collector struct {
	// 消息中心指标
	messagesPublished *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	messagesUnrouted  prometheus.Counter
	deliveryFailures  *prometheus.CounterVec
	topologyAgents    prometheus.Gauge

	// 治理指标
	governorDecisions *prometheus.CounterVec
	agentNoise        *prometheus.GaugeVec

	// 工作流指标
	workflowRuns         *prometheus.CounterVec
	workflowRunDuration  *prometheus.HistogramVec
	workflowSteps        *prometheus.CounterVec
	workflowStepDuration *prometheus.HistogramVec

	// 摘要指标
	summarizerCalls *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg。reg 为 nil 时新建独立 Registry，
// 同时注册 Go 运行时与进程指标。
func NewCollector(namespace string, reg *prometheus.Registry, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		)
	}
	factory := promauto.With(reg)
	c := &Collector{
		gatherer: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// 消息中心指标
	c.messagesPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published to the broker",
		},
		[]string{"type", "broadcast"},
	)

	c.messagesDelivered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of message copies delivered to agents",
		},
		[]string{"recipient"},
	)

	c.messagesUnrouted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_unrouted_total",
			Help:      "Total number of published messages that resolved to no recipient",
		},
	)

	c.deliveryFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_delivery_failures_total",
			Help:      "Total number of deliveries rejected by the receiving agent",
		},
		[]string{"recipient"},
	)

	c.topologyAgents = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_agents",
			Help:      "Number of agents in the current broker topology",
		},
	)

	// 治理指标
	c.governorDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_decisions_total",
			Help:      "Governor decisions by reason",
		},
		[]string{"reason"},
	)

	c.agentNoise = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_noise_score",
			Help:      "Current noise score per agent",
		},
		[]string{"agent_id"},
	)

	// 工作流指标
	c.workflowRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Finished workflow runs by terminal status",
		},
		[]string{"status"},
	)

	c.workflowRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	c.workflowSteps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Executed workflow steps by kind and result",
		},
		[]string{"kind", "result"},
	)

	c.workflowStepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// 摘要指标
	c.summarizerCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_calls_total",
			Help:      "Summarization backend calls by backend and result",
		},
		[]string{"backend", "result"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Handler 返回暴露本收集器指标的 HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// =============================================================================
// 📨 消息中心指标记录
// =============================================================================

// MessagePublished 实现 collaboration.BrokerRecorder
func (c *Collector) MessagePublished(msgType types.MessageType, broadcast bool) {
	if c == nil {
		return
	}
	c.messagesPublished.WithLabelValues(string(msgType), strconv.FormatBool(broadcast)).Inc()
}

// MessageDelivered 实现 collaboration.RegistryRecorder
func (c *Collector) MessageDelivered(recipient string) {
	if c == nil {
		return
	}
	c.messagesDelivered.WithLabelValues(recipient).Inc()
}

// MessageUnrouted 实现 collaboration.RegistryRecorder
func (c *Collector) MessageUnrouted() {
	if c == nil {
		return
	}
	c.messagesUnrouted.Inc()
}

// DeliveryFailed 实现 collaboration.RegistryRecorder
func (c *Collector) DeliveryFailed(recipient string) {
	if c == nil {
		return
	}
	c.deliveryFailures.WithLabelValues(recipient).Inc()
}

// ObserveTopology 可作为 collaboration.TopologyObserver 使用
func (c *Collector) ObserveTopology(top collaboration.Topology) {
	if c == nil {
		return
	}
	c.topologyAgents.Set(float64(len(top.Agents)))
}

// =============================================================================
// 🚦 治理指标记录
// =============================================================================

// GovernorDecision 实现 governor.Recorder
func (c *Collector) GovernorDecision(reason governor.Reason) {
	if c == nil {
		return
	}
	c.governorDecisions.WithLabelValues(string(reason)).Inc()
}

// NoiseScore 实现 governor.Recorder
func (c *Collector) NoiseScore(agentID string, score float64) {
	if c == nil {
		return
	}
	c.agentNoise.WithLabelValues(agentID).Set(score)
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RunFinished 实现 workflow.Recorder
func (c *Collector) RunFinished(status workflow.RunStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.workflowRuns.WithLabelValues(string(status)).Inc()
	c.workflowRunDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// StepFinished 实现 workflow.Recorder
func (c *Collector) StepFinished(kind workflow.StepKind, failed bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	c.workflowSteps.WithLabelValues(string(kind), result).Inc()
	c.workflowStepDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// =============================================================================
// 📝 摘要指标记录
// =============================================================================

// SummarizerCall 实现 summarizer.Recorder
func (c *Collector) SummarizerCall(backend string, ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.summarizerCalls.WithLabelValues(backend, result).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordEmbeddingCache 实现 embedding.CacheRecorder
func (c *Collector) RecordEmbeddingCache(hit bool) {
	if hit {
		c.RecordCacheHit("embedding")
	} else {
		c.RecordCacheMiss("embedding")
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

var (
	_ collaboration.BrokerRecorder   = (*Collector)(nil)
	_ collaboration.RegistryRecorder = (*Collector)(nil)
	_ governor.Recorder              = (*Collector)(nil)
	_ workflow.Recorder              = (*Collector)(nil)
	_ summarizer.Recorder            = (*Collector)(nil)
	_ embedding.CacheRecorder        = (*Collector)(nil)
)
