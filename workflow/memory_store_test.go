package workflow

import (
	"context"
	"testing"

	"github.com/BaSui01/agentcoord/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.StartRun(ctx, "nope", nil, nil)
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))

	require.NoError(t, store.SaveWorkflow(ctx, &Workflow{ID: "wf", Plan: &Plan{Name: "wf"}}))
	first, err := store.GetWorkflow(ctx, "wf")
	require.NoError(t, err)

	// 同 id 重新保存替换计划，保留创建时间
	require.NoError(t, store.SaveWorkflow(ctx, &Workflow{ID: "wf", Plan: &Plan{Name: "wf", Trigger: "t"}}))
	second, err := store.GetWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "t", second.Plan.Trigger)

	event := map[string]any{"k": "v"}
	run, err := store.StartRun(ctx, "wf", event, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.NotNil(t, run.State)
	event["k"] = "mutated"

	require.NoError(t, store.RecordStepState(ctx, run.ID, "s1", map[string]any{"a": 1}, []LogEntry{{Message: "m"}}))
	updated, err := store.UpdateRunStatus(ctx, run.ID, RunStatusFailed, map[string]any{"a": 1}, "boom", "s1")
	require.NoError(t, err)
	assert.Equal(t, "boom", updated.Error)
	assert.NotNil(t, updated.FinishedAt)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.EventPayload["k"])

	records, err := store.ListStepStates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m", records[0].Logs[0].Message)

	_, err = store.GetRun(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrRunNotFound))
	_, err = store.UpdateRunStatus(ctx, "missing", RunStatusRunning, nil, "", "")
	assert.True(t, types.IsCode(err, types.ErrRunNotFound))
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveWorkflow(ctx, &Workflow{ID: "a", Plan: &Plan{Name: "a"}}))
	require.NoError(t, store.SaveWorkflow(ctx, &Workflow{ID: "b", Plan: &Plan{Name: "b"}}))

	var ids []string
	for _, wf := range []string{"a", "b", "a"} {
		run, err := store.StartRun(ctx, wf, nil, nil)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)

	runs, err = store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[2], runs[0].ID)

	wfs, err := store.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", wfs[0].ID)
	assert.Equal(t, "b", wfs[1].ID)
}
