package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/agentcoord/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMapRegistry_RegisterAndFindMissing(t *testing.T) {
	reg := NewDefaultRegistry()

	_, ok := reg.Get(NodeSet)
	assert.True(t, ok)
	_, ok = reg.Get("slack.post")
	assert.False(t, ok)

	assert.Error(t, reg.Register(workflow.NodeDefinition{ID: "x"}))
	assert.Error(t, reg.Register(workflow.NodeDefinition{Executor: noopNode}))

	plan := &workflow.Plan{Name: "p", Steps: []workflow.Step{
		&workflow.NodeStep{ID: "a", Node: "slack.post"},
		&workflow.NodeStep{ID: "b", Node: NodeNoop},
		&workflow.ConditionStep{ID: "c", Condition: "true"},
		&workflow.NodeStep{ID: "d", Node: "slack.post"},
		&workflow.NodeStep{ID: "e", Node: "jira.create"},
	}}
	assert.Equal(t, []string{"jira.create", "slack.post"}, reg.FindMissingNodes(plan))

	ids := make([]string, 0)
	for _, d := range reg.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"core.fail", "core.log", "core.noop", "core.set"}, ids)

	reg.Unregister(NodeFail)
	_, ok = reg.Get(NodeFail)
	assert.False(t, ok)
}

func TestMapRegistry_EnsureLoadedRetriesFailedLoader(t *testing.T) {
	reg := NewMapRegistry()
	calls := 0
	reg.AddLoader(func(ctx context.Context) ([]workflow.NodeDefinition, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("catalog offline")
		}
		return []workflow.NodeDefinition{{ID: "remote.echo", Executor: setNode}}, nil
	})

	require.Error(t, reg.EnsureLoaded(context.Background()))
	_, ok := reg.Get("remote.echo")
	assert.False(t, ok)

	require.NoError(t, reg.EnsureLoaded(context.Background()))
	require.NoError(t, reg.EnsureLoaded(context.Background()))
	assert.Equal(t, 2, calls)
	_, ok = reg.Get("remote.echo")
	assert.True(t, ok)
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()

	res, err := setNode(ctx, workflow.NodeContext{Inputs: map[string]any{"taskId": "T-1", "n": 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"taskId": "T-1", "n": 2}, res.Outputs)

	res, err = failNode(ctx, workflow.NodeContext{})
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeStatusError, res.Status)
	assert.Equal(t, "failed by core.fail", res.Error)

	core, logs := observer.New(zapcore.DebugLevel)
	res, err = logNode(ctx, workflow.NodeContext{
		Inputs: map[string]any{"message": "hello", "level": "WARN"},
		Logger: zap.New(core),
	})
	require.NoError(t, err)
	assert.Equal(t, "warn", res.Outputs["level"])
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello", logs.All()[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)

	res, err = logNode(ctx, workflow.NodeContext{Inputs: map[string]any{"level": "fatal"}})
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeStatusError, res.Status)
}

func TestBuiltins_RunThroughEngine(t *testing.T) {
	ctx := context.Background()
	store := workflow.NewMemoryStore()
	require.NoError(t, store.SaveWorkflow(ctx, &workflow.Workflow{ID: "wf", Plan: &workflow.Plan{
		Name: "wf",
		Steps: []workflow.Step{
			&workflow.NodeStep{ID: "init", Node: NodeSet, Inputs: map[string]any{"taskId": "{{ event.id }}"}},
			&workflow.NodeStep{ID: "check", Node: NodeFail, Inputs: map[string]any{"message": "not ready"}, OnFailure: "note"},
			&workflow.NodeStep{ID: "skipped", Node: NodeNoop},
			&workflow.NodeStep{ID: "note", Node: NodeLog, Inputs: map[string]any{"message": "task {{ state.init.taskId }}: {{ state[\"check.error\"] }}"}},
		},
	}}))

	engine := workflow.NewEngine(NewDefaultRegistry(), store, zap.NewNop())
	run, err := engine.Run(ctx, "wf", map[string]any{"id": "T-9"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)
	assert.Equal(t, "T-9", run.State["init.taskId"])
	assert.Equal(t, "task T-9: not ready", run.State["note.message"])
	assert.NotContains(t, run.State, "skipped")
}
