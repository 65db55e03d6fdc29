package collaboration

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisteredAgent 消息中心记录的智能体信息
type RegisteredAgent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Connections []string `json:"connections,omitempty"`
}

// Topology 当前已注册智能体与订阅关系的快照
type Topology struct {
	Agents        []RegisteredAgent   `json:"agents"`
	Subscriptions map[string][]string `json:"subscriptions"`
	Version       uint64              `json:"version"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Listener 接收每条已发布的消息，在发布者的 goroutine 中同步调用
type Listener func(ctx context.Context, msg types.AgentMessage)

// TopologyObserver 在拓扑变化后被调用
type TopologyObserver func(Topology)

// BrokerRecorder 记录发布指标
type BrokerRecorder interface {
	MessagePublished(msgType types.MessageType, broadcast bool)
}

type listenerEntry struct {
	id uint64
	fn Listener
}

type observerEntry struct {
	id uint64
	fn TopologyObserver
}

// Broker 进程内消息中心：维护注册信息与主题订阅，发布时同步分发给所有监听器
type Broker struct {
	mu        sync.RWMutex
	agents    map[string]RegisteredAgent
	order     []string
	subs      map[string][]string
	listeners []listenerEntry
	observers []observerEntry
	nextID    uint64
	version   uint64
	closed    bool
	recorder  BrokerRecorder
	now       func() time.Time
	logger    *zap.Logger
}

// BrokerOption 配置 Broker
type BrokerOption func(*Broker)

// WithBrokerRecorder 设置发布指标记录器
func WithBrokerRecorder(r BrokerRecorder) BrokerOption {
	return func(b *Broker) { b.recorder = r }
}

// WithClock 覆盖时间源
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker 创建消息中心
func NewBroker(logger *zap.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		agents: make(map[string]RegisteredAgent),
		subs:   make(map[string][]string),
		now:    time.Now,
		logger: logger.With(zap.String("component", "broker")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register 记录一个智能体；重复 id 返回 AGENT_ALREADY_REGISTERED
func (b *Broker) Register(agent RegisteredAgent) error {
	if agent.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "agent id is required")
	}
	agent.Connections = append([]string(nil), agent.Connections...)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.NewError(types.ErrBrokerClosed, "broker is closed")
	}
	if _, exists := b.agents[agent.ID]; exists {
		b.mu.Unlock()
		return types.Errorf(types.ErrAgentAlreadyRegistered, "agent %q is already registered", agent.ID)
	}
	b.agents[agent.ID] = agent
	b.order = append(b.order, agent.ID)
	snapshot, observers := b.bumpLocked()
	b.mu.Unlock()

	b.logger.Debug("agent registered", zap.String("agent_id", agent.ID), zap.String("role", agent.Role))
	notify(observers, snapshot)
	return nil
}

// Unregister 删除智能体及其订阅；不存在时为空操作，返回是否删除
func (b *Broker) Unregister(agentID string) bool {
	b.mu.Lock()
	if _, exists := b.agents[agentID]; !exists {
		b.mu.Unlock()
		return false
	}
	delete(b.agents, agentID)
	b.order = removeString(b.order, agentID)
	for topic, ids := range b.subs {
		ids = removeString(ids, agentID)
		if len(ids) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = ids
		}
	}
	snapshot, observers := b.bumpLocked()
	b.mu.Unlock()

	b.logger.Debug("agent unregistered", zap.String("agent_id", agentID))
	notify(observers, snapshot)
	return true
}

// Agent 返回已注册智能体的信息
func (b *Broker) Agent(agentID string) (RegisteredAgent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.agents[agentID]
	if ok {
		a.Connections = append([]string(nil), a.Connections...)
	}
	return a, ok
}

// Agents 按注册顺序返回全部智能体
func (b *Broker) Agents() []RegisteredAgent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.agentsLocked()
}

// Subscribe 订阅主题，返回取消订阅函数；重复订阅不产生重复投递
func (b *Broker) Subscribe(topic, agentID string) func() {
	b.mu.Lock()
	ids := b.subs[topic]
	changed := !containsString(ids, agentID)
	if changed {
		b.subs[topic] = append(ids, agentID)
	}
	var (
		snapshot  Topology
		observers []TopologyObserver
	)
	if changed {
		snapshot, observers = b.bumpLocked()
	}
	b.mu.Unlock()
	notify(observers, snapshot)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, agentID) })
	}
}

func (b *Broker) unsubscribe(topic, agentID string) {
	b.mu.Lock()
	ids := b.subs[topic]
	if !containsString(ids, agentID) {
		b.mu.Unlock()
		return
	}
	ids = removeString(ids, agentID)
	if len(ids) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = ids
	}
	snapshot, observers := b.bumpLocked()
	b.mu.Unlock()
	notify(observers, snapshot)
}

// ResolveSubscribers 返回主题的订阅者：已注册者按注册顺序在前，其余按订阅顺序
func (b *Broker) ResolveSubscribers(topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.subs[topic]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range b.order {
		if containsString(ids, id) {
			out = append(out, id)
		}
	}
	for _, id := range ids {
		if _, registered := b.agents[id]; !registered {
			out = append(out, id)
		}
	}
	return out
}

// AddListener 添加发布监听器，返回移除函数
func (b *Broker) AddListener(fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddTopologyObserver 添加拓扑观察者，返回移除函数
func (b *Broker) AddTopologyObserver(fn TopologyObserver) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, observerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, o := range b.observers {
			if o.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Topology 返回当前拓扑快照
func (b *Broker) Topology() Topology {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topologyLocked()
}

// Publish 补全消息 id 与时间戳，校验后同步分发给所有监听器，返回最终消息。
// 无接收方不是错误，由监听器自行处理。
func (b *Broker) Publish(ctx context.Context, msg types.AgentMessage) (types.AgentMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return msg, types.NewError(types.ErrBrokerClosed, "broker is closed")
	}
	listeners := make([]Listener, len(b.listeners))
	for i, l := range b.listeners {
		listeners[i] = l.fn
	}
	b.mu.RUnlock()

	broadcast := types.IsBroadcastAddress(msg.To)
	if b.recorder != nil {
		b.recorder.MessagePublished(msg.Type, broadcast)
	}
	b.logger.Debug("message published",
		zap.String("msg_id", msg.ID),
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("type", string(msg.Type)),
	)

	for _, fn := range listeners {
		if err := ctx.Err(); err != nil {
			return msg, err
		}
		fn(ctx, msg)
	}
	return msg, nil
}

// Broadcast 向全部智能体（发送者除外）发布消息
func (b *Broker) Broadcast(ctx context.Context, from string, msgType types.MessageType, content string) (types.AgentMessage, error) {
	return b.Publish(ctx, types.AgentMessage{
		From:    from,
		To:      types.AddressAll,
		Type:    msgType,
		Content: content,
	})
}

// Close 关闭消息中心，之后的发布与注册返回 BROKER_CLOSED
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.listeners = nil
	b.observers = nil
	b.logger.Info("broker closed")
	return nil
}

func (b *Broker) bumpLocked() (Topology, []TopologyObserver) {
	b.version++
	if len(b.observers) == 0 {
		return Topology{}, nil
	}
	observers := make([]TopologyObserver, len(b.observers))
	for i, o := range b.observers {
		observers[i] = o.fn
	}
	return b.topologyLocked(), observers
}

func (b *Broker) topologyLocked() Topology {
	subs := make(map[string][]string, len(b.subs))
	for topic, ids := range b.subs {
		subs[topic] = append([]string(nil), ids...)
	}
	return Topology{
		Agents:        b.agentsLocked(),
		Subscriptions: subs,
		Version:       b.version,
		UpdatedAt:     b.now(),
	}
}

func (b *Broker) agentsLocked() []RegisteredAgent {
	out := make([]RegisteredAgent, 0, len(b.order))
	for _, id := range b.order {
		a := b.agents[id]
		a.Connections = append([]string(nil), a.Connections...)
		out = append(out, a)
	}
	return out
}

func notify(observers []TopologyObserver, snapshot Topology) {
	for _, fn := range observers {
		fn(snapshot)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
