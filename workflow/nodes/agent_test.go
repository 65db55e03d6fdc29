package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent   []types.AgentMessage
	result governor.SendResult
	err    error
}

func (f *fakeSender) Send(_ context.Context, msg types.AgentMessage) (governor.SendResult, error) {
	f.sent = append(f.sent, msg)
	res := f.result
	res.Message = msg
	if res.Published {
		res.Message.ID = "msg-1"
	}
	return res, f.err
}

type fakeHistory map[string][]types.AgentMessage

func (h fakeHistory) History(thread string) []types.AgentMessage { return h[thread] }

type fakeSummarizer struct {
	got []types.AgentMessage
	err error
}

func (s *fakeSummarizer) Summarize(_ context.Context, msgs []types.AgentMessage) (string, error) {
	s.got = msgs
	if s.err != nil {
		return "", s.err
	}
	return "- decided", nil
}

func TestAgentNodes_WithoutDependencies(t *testing.T) {
	ctx := context.Background()
	defs := AgentNodes(nil, nil, nil)
	require.Len(t, defs, 2)
	assert.Equal(t, NodeAgentSend, defs[0].ID)
	assert.Equal(t, NodeAgentSummarize, defs[1].ID)

	for _, def := range defs {
		res, err := def.Executor(ctx, workflow.NodeContext{Inputs: map[string]any{
			"from": "a", "to": "b", "content": "x", "thread": "t",
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusError, res.Status)
		assert.Contains(t, res.Error, "not configured")
	}
}

func TestAgentSend(t *testing.T) {
	ctx := context.Background()

	t.Run("published", func(t *testing.T) {
		sender := &fakeSender{result: governor.SendResult{
			Published: true,
			Decision:  governor.Decision{Allowed: true, Reason: governor.ReasonAllowed},
		}}
		res, err := sendNode(sender)(ctx, workflow.NodeContext{Inputs: map[string]any{
			"from": "planner", "to": "coder", "type": "Question",
			"content": " which db? ", "intent": "ask_db", "thread": "t-1",
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusOK, res.Status)
		assert.Equal(t, true, res.Outputs["published"])
		assert.Equal(t, "allowed", res.Outputs["reason"])
		assert.Equal(t, "msg-1", res.Outputs["message_id"])

		require.Len(t, sender.sent, 1)
		msg := sender.sent[0]
		assert.Equal(t, types.MessageTypeQuestion, msg.Type)
		assert.Equal(t, "which db?", msg.Content)
		assert.Equal(t, "ask_db", msg.MetadataString("intent"))
		assert.Equal(t, "t-1", msg.MetadataString("thread"))
	})

	t.Run("suppressed is not an error", func(t *testing.T) {
		sender := &fakeSender{result: governor.SendResult{
			Decision: governor.Decision{Reason: governor.ReasonComplete},
			Thread:   &governor.ThreadDecision{Outcome: governor.OutcomeForcedCompletion, Reason: governor.ReasonComplete, Summary: "- done"},
		}}
		res, err := sendNode(sender)(ctx, workflow.NodeContext{Inputs: map[string]any{
			"from": "a", "to": "b", "content": "again",
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusOK, res.Status)
		assert.Equal(t, false, res.Outputs["published"])
		assert.Equal(t, "complete", res.Outputs["reason"])
		assert.Equal(t, "- done", res.Outputs["summary"])
		assert.NotContains(t, res.Outputs, "message_id")
		assert.Equal(t, types.MessageTypeTask, sender.sent[0].Type)
		assert.Nil(t, sender.sent[0].Metadata)
	})

	t.Run("invalid inputs", func(t *testing.T) {
		sender := &fakeSender{}
		res, err := sendNode(sender)(ctx, workflow.NodeContext{Inputs: map[string]any{"to": "b", "content": "x"}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusError, res.Status)

		res, err = sendNode(sender)(ctx, workflow.NodeContext{Inputs: map[string]any{
			"from": "a", "to": "b", "content": "x", "type": "shout",
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusError, res.Status)
		assert.Empty(t, sender.sent)
	})

	t.Run("publish failure", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("broker closed")}
		res, err := sendNode(sender)(ctx, workflow.NodeContext{Inputs: map[string]any{
			"from": "a", "to": "b", "content": "x",
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeStatusError, res.Status)
		assert.Equal(t, "broker closed", res.Error)
	})
}

func TestAgentSummarize(t *testing.T) {
	ctx := context.Background()
	history := fakeHistory{"t-1": {
		{From: "a", To: "b", Type: types.MessageTypeTask, Content: "ship"},
		{From: "b", To: "a", Type: types.MessageTypeResponse, Content: "shipped"},
	}}

	s := &fakeSummarizer{}
	res, err := summarizeNode(history, s)(ctx, workflow.NodeContext{Inputs: map[string]any{"thread": "t-1"}})
	require.NoError(t, err)
	assert.Equal(t, "- decided", res.Outputs["summary"])
	assert.Equal(t, 2, res.Outputs["messages"])
	assert.Len(t, s.got, 2)

	res, err = summarizeNode(history, s)(ctx, workflow.NodeContext{})
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeStatusError, res.Status)

	res, err = summarizeNode(history, &fakeSummarizer{err: errors.New("llm down")})(ctx, workflow.NodeContext{Inputs: map[string]any{"thread": "t-1"}})
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeStatusError, res.Status)
	assert.Equal(t, "llm down", res.Error)
}

func TestAgentSend_RunThroughEngine(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{result: governor.SendResult{Published: true, Decision: governor.Decision{Allowed: true, Reason: governor.ReasonAllowed}}}
	reg := NewDefaultRegistry().MustRegister(AgentNodes(sender, nil, nil)...)

	store := workflow.NewMemoryStore()
	require.NoError(t, store.SaveWorkflow(ctx, &workflow.Workflow{ID: "notify", Plan: &workflow.Plan{
		Name: "notify",
		Steps: []workflow.Step{
			&workflow.NodeStep{ID: "ask", Node: NodeAgentSend, Inputs: map[string]any{
				"from": "workflow", "to": "{{ event.agent }}", "content": "status of {{ event.ticket }}?",
			}},
		},
	}}))

	run, err := workflow.NewEngine(reg, store, zap.NewNop()).Run(ctx, "notify", map[string]any{"agent": "ops", "ticket": "T-7"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)
	assert.Equal(t, true, run.State["ask.published"])
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops", sender.sent[0].To)
	assert.Equal(t, "status of T-7?", sender.sent[0].Content)
}
