package natsbus

import (
	"github.com/BaSui01/agentcoord/agent/collaboration"
	"go.uber.org/zap"
)

// JSONPublisher 以 JSON 发布事件
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

// Bridge 把本地消息中心的拓扑快照与路由信号转发到 NATS
type Bridge struct {
	pub      JSONPublisher
	subjects Subjects
	logger   *zap.Logger
}

// NewBridge 创建转发器
func NewBridge(pub JSONPublisher, subjects Subjects, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		pub:      pub,
		subjects: subjects,
		logger:   logger.With(zap.String("component", "natsbus_bridge")),
	}
}

// Attach 注册到消息中心与注册表，返回解除函数
func (b *Bridge) Attach(broker *collaboration.Broker, registry *collaboration.Registry) func() {
	detachTopology := broker.AddTopologyObserver(b.PublishTopology)
	detachState := registry.OnStateChanged(b.PublishStateChange)
	return func() {
		detachTopology()
		detachState()
	}
}

// PublishTopology 可作为 collaboration.TopologyObserver
func (b *Bridge) PublishTopology(top collaboration.Topology) {
	if err := b.pub.PublishJSON(b.subjects.Topology(), top); err != nil {
		b.logger.Warn("publish topology failed", zap.Uint64("version", top.Version), zap.Error(err))
	}
}

// PublishStateChange 可作为 collaboration.StateChangeHandler。
// 未路由的消息与投递失败分别发布到不同 subject。
func (b *Bridge) PublishStateChange(sc collaboration.StateChange) {
	subject := b.subjects.Unrouted()
	if sc.Routed {
		if sc.Error == "" {
			return
		}
		subject = b.subjects.DeliveryFailed()
	}
	if err := b.pub.PublishJSON(subject, sc); err != nil {
		b.logger.Warn("publish state change failed",
			zap.String("subject", subject),
			zap.String("message_id", sc.Message.ID),
			zap.Error(err),
		)
	}
}
