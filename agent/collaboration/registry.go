package collaboration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// Agent 可注册的在线智能体
type Agent interface {
	ID() string
	Name() string
	Role() string

	// HandleMessage 接收投递给本智能体的消息（To 已重绑定为自身 id）
	HandleMessage(ctx context.Context, msg types.AgentMessage) error

	// Dispose 在注销时调用，释放智能体持有的资源
	Dispose(ctx context.Context) error
}

// Connected 可选接口：声明智能体的连接对象，写入拓扑
type Connected interface {
	Connections() []string
}

// Direction 状态变化方向
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// StateChange 路由结果信号。未路由的消息与投递失败都会产生一个信号。
type StateChange struct {
	AgentID   string             `json:"agent_id"`
	Direction Direction          `json:"direction"`
	Routed    bool               `json:"routed"`
	Message   types.AgentMessage `json:"message"`
	Error     string             `json:"error,omitempty"`
	At        time.Time          `json:"at"`
}

// StateChangeHandler 接收状态变化信号
type StateChangeHandler func(StateChange)

// RegistryRecorder 记录投递指标
type RegistryRecorder interface {
	MessageDelivered(recipient string)
	MessageUnrouted()
	DeliveryFailed(recipient string)
}

type handlerEntry struct {
	id uint64
	fn StateChangeHandler
}

// Registry 持有在线智能体，监听消息中心并把消息路由给接收方
type Registry struct {
	broker   *Broker
	mu       sync.RWMutex
	agents   map[string]Agent
	order    []string
	leaving  map[string]struct{} // 正在 Dispose 的智能体，不再接收消息
	handlers []handlerEntry
	nextID   uint64
	recorder RegistryRecorder
	detach   func()
	logger   *zap.Logger
}

// RegistryOption 配置 Registry
type RegistryOption func(*Registry)

// WithRegistryRecorder 设置投递指标记录器
func WithRegistryRecorder(r RegistryRecorder) RegistryOption {
	return func(reg *Registry) { reg.recorder = r }
}

// NewRegistry 创建注册表并挂到消息中心上
func NewRegistry(broker *Broker, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		broker: broker,
		agents:  make(map[string]Agent),
		leaving: make(map[string]struct{}),
		logger:  logger.With(zap.String("component", "agent_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.detach = broker.AddListener(r.route)
	return r
}

// Register 注册智能体；重复 id 返回 AGENT_ALREADY_REGISTERED
func (r *Registry) Register(agent Agent) error {
	if agent == nil {
		return types.NewError(types.ErrInvalidRequest, "agent is nil")
	}
	record := RegisteredAgent{ID: agent.ID(), Name: agent.Name(), Role: agent.Role()}
	if c, ok := agent.(Connected); ok {
		record.Connections = c.Connections()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[record.ID]; exists {
		return types.Errorf(types.ErrAgentAlreadyRegistered, "agent %q is already registered", record.ID)
	}
	if err := r.broker.Register(record); err != nil {
		return err
	}
	r.agents[record.ID] = agent
	r.order = append(r.order, record.ID)

	r.logger.Info("agent registered",
		zap.String("agent_id", record.ID),
		zap.String("name", record.Name),
		zap.String("role", record.Role),
	)
	return nil
}

// Unregister 调用智能体的 Dispose 并移除它；不存在时为空操作。
// Dispose 失败时智能体仍被移除，错误会返回给调用方。
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	agent, exists := r.agents[agentID]
	_, busy := r.leaving[agentID]
	if exists && !busy {
		r.leaving[agentID] = struct{}{}
	}
	r.mu.Unlock()
	if !exists || busy {
		return nil
	}

	// 先调用 Dispose，再移除记录与订阅；Dispose 失败也照常移除
	disposeErr := agent.Dispose(ctx)

	r.mu.Lock()
	delete(r.agents, agentID)
	delete(r.leaving, agentID)
	r.order = removeString(r.order, agentID)
	r.mu.Unlock()
	r.broker.Unregister(agentID)

	if disposeErr != nil {
		r.logger.Warn("agent dispose failed", zap.String("agent_id", agentID), zap.Error(disposeErr))
		return fmt.Errorf("dispose agent %q: %w", agentID, disposeErr)
	}
	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return nil
}

// Get 返回已注册的智能体
func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// IDs 按注册顺序返回智能体 id
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// OnStateChanged 订阅状态变化信号，返回移除函数
func (r *Registry) OnStateChanged(fn StateChangeHandler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers = append(r.handlers, handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, h := range r.handlers {
			if h.id == id {
				r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
				return
			}
		}
	}
}

// Close 注销全部智能体并与消息中心断开
func (r *Registry) Close(ctx context.Context) error {
	r.detach()
	var errs []error
	for _, id := range r.IDs() {
		if err := r.Unregister(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recipients 计算消息的接收方（按注册顺序，已去重，不含发送者）
func (r *Registry) Recipients(msg types.AgentMessage) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipientsLocked(msg)
}

func (r *Registry) recipientsLocked(msg types.AgentMessage) []string {
	if types.IsBroadcastAddress(msg.To) {
		out := make([]string, 0, len(r.order))
		for _, id := range r.order {
			if _, gone := r.leaving[id]; !gone && id != msg.From {
				out = append(out, id)
			}
		}
		return out
	}

	set := make(map[string]struct{})
	if _, ok := r.agents[msg.To]; ok {
		set[msg.To] = struct{}{}
	}
	for _, id := range r.broker.ResolveSubscribers(msg.To) {
		if _, ok := r.agents[id]; ok {
			set[id] = struct{}{}
		}
	}
	delete(set, msg.From)
	for id := range r.leaving {
		delete(set, id)
	}

	out := make([]string, 0, len(set))
	for _, id := range r.order {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// route 是挂在消息中心上的监听器
func (r *Registry) route(ctx context.Context, msg types.AgentMessage) {
	r.mu.RLock()
	recipients := r.recipientsLocked(msg)
	targets := make([]Agent, len(recipients))
	for i, id := range recipients {
		targets[i] = r.agents[id]
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.logger.Warn("message has no recipients",
			zap.String("msg_id", msg.ID),
			zap.String("from", msg.From),
			zap.String("to", msg.To),
		)
		if r.recorder != nil {
			r.recorder.MessageUnrouted()
		}
		r.emit(StateChange{
			AgentID:   msg.To,
			Direction: DirectionIncoming,
			Routed:    false,
			Message:   msg,
			At:        time.Now(),
		})
		return
	}

	for _, agent := range targets {
		copyMsg := msg.Rebind(agent.ID())
		if err := agent.HandleMessage(ctx, copyMsg); err != nil {
			r.logger.Warn("message delivery failed",
				zap.String("msg_id", msg.ID),
				zap.String("recipient", agent.ID()),
				zap.Error(err),
			)
			if r.recorder != nil {
				r.recorder.DeliveryFailed(agent.ID())
			}
			r.emit(StateChange{
				AgentID:   agent.ID(),
				Direction: DirectionIncoming,
				Routed:    true,
				Message:   copyMsg,
				Error:     err.Error(),
				At:        time.Now(),
			})
			continue
		}
		if r.recorder != nil {
			r.recorder.MessageDelivered(agent.ID())
		}
	}
}

func (r *Registry) emit(change StateChange) {
	r.mu.RLock()
	handlers := make([]StateChangeHandler, len(r.handlers))
	for i, h := range r.handlers {
		handlers[i] = h.fn
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		fn(change)
	}
}
