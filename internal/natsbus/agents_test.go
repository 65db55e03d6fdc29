package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentcoord/agent/collaboration"
	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRemoteAgent_ForwardsDeliveries(t *testing.T) {
	_, client := startBus(t)
	subjects := NewSubjects("team")
	inbox := collect(t, client, subjects.Inbox("coder"))

	broker := collaboration.NewBroker(zaptest.NewLogger(t))
	registry := collaboration.NewRegistry(broker, zaptest.NewLogger(t))
	agent := NewRemoteAgent("coder", "", "engineer", client, subjects)
	require.NoError(t, registry.Register(agent))
	assert.Equal(t, "coder", agent.Name())
	assert.Equal(t, []string{"team.agents.coder.inbox"}, agent.Connections())

	_, err := broker.Publish(context.Background(), types.AgentMessage{
		From: "planner", To: "coder", Type: types.MessageTypeTask, Content: "write tests",
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	var got types.AgentMessage
	require.NoError(t, json.Unmarshal(receive(t, inbox).Data, &got))
	assert.Equal(t, "coder", got.To)
	assert.Equal(t, "write tests", got.Content)
	assert.NotEmpty(t, got.ID)
}

func TestRemoteAgent_PublishFailureIsDeliveryError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection closed")}
	err := NewRemoteAgent("coder", "Coder", "", pub, NewSubjects("")).
		HandleMessage(context.Background(), types.AgentMessage{To: "coder"})
	assert.ErrorContains(t, err, "connection closed")
}

type recordingSender struct {
	got    []types.AgentMessage
	result governor.SendResult
	err    error
}

func (s *recordingSender) Send(_ context.Context, msg types.AgentMessage) (governor.SendResult, error) {
	s.got = append(s.got, msg)
	res := s.result
	res.Message = msg
	return res, s.err
}

func TestIngress_SendsThroughGovernanceAndReplies(t *testing.T) {
	_, client := startBus(t)
	subjects := NewSubjects("")
	sender := &recordingSender{result: governor.SendResult{
		Published: true,
		Decision:  governor.Decision{Allowed: true, Reason: governor.ReasonAllowed},
	}}

	ingress := NewIngress(client, sender, subjects, zaptest.NewLogger(t))
	require.NoError(t, ingress.Start(context.Background()))
	defer ingress.Stop()
	assert.Error(t, ingress.Start(context.Background()))
	require.NoError(t, client.Flush())

	var reply IngressReply
	require.NoError(t, client.RequestJSON(subjects.Outbox(), types.AgentMessage{
		From: "remote", To: "coder", Type: types.MessageTypeQuestion, Content: "status?",
	}, &reply, 2*time.Second))
	assert.True(t, reply.Published)
	assert.Equal(t, governor.ReasonAllowed, reply.Decision.Reason)
	assert.Empty(t, reply.Error)
	require.Len(t, sender.got, 1)
	assert.Equal(t, "status?", sender.got[0].Content)

	reply = IngressReply{}
	require.NoError(t, client.RequestJSON(subjects.Outbox(), "not a message", &reply, 2*time.Second))
	assert.Contains(t, reply.Error, string(types.ErrInvalidMessage))
	assert.Len(t, sender.got, 1)

	require.NoError(t, ingress.Stop())
	require.NoError(t, ingress.Stop())
}
