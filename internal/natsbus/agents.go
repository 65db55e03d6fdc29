package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/agentcoord/agent/collaboration"
	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// RemoteAgent 把投递转发到 NATS 收件 subject 的智能体，进程外的实现通过订阅接收消息
type RemoteAgent struct {
	id       string
	name     string
	role     string
	pub      JSONPublisher
	subjects Subjects
}

// NewRemoteAgent 创建远程智能体。name 为空时使用 id。
func NewRemoteAgent(id, name, role string, pub JSONPublisher, subjects Subjects) *RemoteAgent {
	if name == "" {
		name = id
	}
	return &RemoteAgent{id: id, name: name, role: role, pub: pub, subjects: subjects}
}

// ID 实现 collaboration.Agent
func (a *RemoteAgent) ID() string { return a.id }

// Name 实现 collaboration.Agent
func (a *RemoteAgent) Name() string { return a.name }

// Role 实现 collaboration.Agent
func (a *RemoteAgent) Role() string { return a.role }

// Connections 实现 collaboration.Connected
func (a *RemoteAgent) Connections() []string {
	return []string{a.subjects.Inbox(a.id)}
}

// HandleMessage 实现 collaboration.Agent，发布失败即投递失败
func (a *RemoteAgent) HandleMessage(_ context.Context, msg types.AgentMessage) error {
	if err := a.pub.PublishJSON(a.subjects.Inbox(a.id), msg); err != nil {
		return fmt.Errorf("forward to %s: %w", a.id, err)
	}
	return nil
}

// Dispose 实现 collaboration.Agent
func (a *RemoteAgent) Dispose(context.Context) error { return nil }

var (
	_ collaboration.Agent     = (*RemoteAgent)(nil)
	_ collaboration.Connected = (*RemoteAgent)(nil)
)

// Sender 治理发送，通常是 governor.Gate
type Sender interface {
	Send(ctx context.Context, msg types.AgentMessage) (governor.SendResult, error)
}

// Ingress 订阅 <prefix>.messages.send，把远程智能体发来的消息交给治理发送。
// 请求带 reply subject 时回复 SendResult。
type Ingress struct {
	sub      Subscriber
	sender   Sender
	subjects Subjects
	logger   *zap.Logger

	mu   sync.Mutex
	nsub *nats.Subscription
	ctx  context.Context
}

// IngressReply 回复给发送方的结果
type IngressReply struct {
	governor.SendResult
	Error string `json:"error,omitempty"`
}

// NewIngress 创建入口
func NewIngress(sub Subscriber, sender Sender, subjects Subjects, logger *zap.Logger) *Ingress {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingress{
		sub:      sub,
		sender:   sender,
		subjects: subjects,
		logger:   logger.With(zap.String("component", "nats_ingress")),
	}
}

// Start 开始订阅
func (in *Ingress) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.nsub != nil {
		return fmt.Errorf("ingress already started")
	}
	in.ctx = ctx
	nsub, err := in.sub.Subscribe(in.subjects.Outbox(), in.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", in.subjects.Outbox(), err)
	}
	in.nsub = nsub
	in.logger.Info("ingress started", zap.String("subject", in.subjects.Outbox()))
	return nil
}

// Stop 取消订阅
func (in *Ingress) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.nsub == nil {
		return nil
	}
	err := in.nsub.Unsubscribe()
	in.nsub = nil
	return err
}

func (in *Ingress) handle(msg *nats.Msg) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	var reply IngressReply
	var am types.AgentMessage
	if err := json.Unmarshal(msg.Data, &am); err != nil {
		reply.Error = types.NewError(types.ErrInvalidMessage, "decode agent message").WithCause(err).Error()
	} else {
		res, err := in.sender.Send(ctx, am)
		reply.SendResult = res
		if err != nil {
			reply.Error = err.Error()
		}
	}
	if reply.Error != "" {
		in.logger.Warn("ingress message rejected", zap.String("error", reply.Error))
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		in.logger.Error("encode ingress reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		in.logger.Warn("ingress reply failed", zap.Error(err))
	}
}
