package collaboration

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/agentcoord/types"
)

// recordingAgent 记录收到的消息，供测试断言
type recordingAgent struct {
	id       string
	role     string
	conns    []string
	failWith  error
	log       *deliveryLog
	onDispose func()

	mu       sync.Mutex
	received []types.AgentMessage
	disposed int
}

// deliveryLog 跨智能体记录投递顺序
type deliveryLog struct {
	mu    sync.Mutex
	order []string
}

func (l *deliveryLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, id)
}

func (l *deliveryLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func newAgent(id string) *recordingAgent {
	return &recordingAgent{id: id, role: "worker"}
}

func (a *recordingAgent) ID() string            { return a.id }
func (a *recordingAgent) Name() string          { return "agent " + a.id }
func (a *recordingAgent) Role() string          { return a.role }
func (a *recordingAgent) Connections() []string { return a.conns }

func (a *recordingAgent) HandleMessage(_ context.Context, msg types.AgentMessage) error {
	a.mu.Lock()
	a.received = append(a.received, msg)
	a.mu.Unlock()
	if a.log != nil {
		a.log.add(a.id)
	}
	return a.failWith
}

func (a *recordingAgent) Dispose(context.Context) error {
	if a.onDispose != nil {
		a.onDispose()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposed++
	if a.failWith != nil {
		return errors.New("dispose: " + a.failWith.Error())
	}
	return nil
}

func (a *recordingAgent) messages() []types.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.AgentMessage(nil), a.received...)
}

type countingBrokerRecorder struct {
	published, broadcasts int
	delivered             map[string]int
	unrouted, failed      int
}

func newCountingRecorder() *countingBrokerRecorder {
	return &countingBrokerRecorder{delivered: make(map[string]int)}
}

func (r *countingBrokerRecorder) MessagePublished(_ types.MessageType, broadcast bool) {
	r.published++
	if broadcast {
		r.broadcasts++
	}
}

func (r *countingBrokerRecorder) MessageDelivered(recipient string) { r.delivered[recipient]++ }
func (r *countingBrokerRecorder) MessageUnrouted()                  { r.unrouted++ }
func (r *countingBrokerRecorder) DeliveryFailed(string)             { r.failed++ }
