package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func saveWorkflow(t *testing.T, store *MemoryStore, id string, steps ...Step) {
	t.Helper()
	require.NoError(t, store.SaveWorkflow(context.Background(), &Workflow{
		ID:   id,
		Plan: &Plan{Name: id, Steps: steps},
	}))
}

func TestEngine_SequentialPlanCompletes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newFakeRegistry().
		add("tasks.create", outputs(map[string]any{"taskId": "T-1"})).
		add("tasks.assign", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			return NodeResult{Outputs: map[string]any{"assignee": "alice", "task": nc.Inputs["task"]}}, nil
		}).
		add("tasks.notify", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			return NodeResult{Outputs: map[string]any{"sent": true, "text": nc.Inputs["text"]}, Status: NodeStatusOK}, nil
		})

	saveWorkflow(t, store, "onboarding",
		&NodeStep{ID: "step1", Node: "tasks.create"},
		&NodeStep{ID: "step2", Node: "tasks.assign", Inputs: map[string]any{"task": `{{ state["step1.taskId"] }}`}},
		&NodeStep{ID: "step3", Node: "tasks.notify", Inputs: map[string]any{"text": "task {{ state.step1.taskId }} -> {{ state[\"step2.assignee\"] }}"}},
	)

	engine := NewEngine(reg, store, zaptest.NewLogger(t))
	run, err := engine.Run(ctx, "onboarding", map[string]any{"source": "test"})
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)
	assert.Equal(t, "T-1", run.State["step1.taskId"])
	assert.Equal(t, "T-1", run.State["step2.task"])
	assert.Equal(t, "alice", run.State["step2.assignee"])
	assert.Equal(t, "task T-1 -> alice", run.State["step3.text"])
	assert.Equal(t, true, run.State["step3.sent"])
	assert.Equal(t, map[string]any{"taskId": "T-1"}, run.State["step1"])

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, stored.Status)
	assert.Equal(t, map[string]any{"source": "test"}, stored.EventPayload)

	records, err := store.ListStepStates(ctx, run.ID)
	require.NoError(t, err)
	// 每个节点步骤：开始前一次，写入输出后一次
	require.Len(t, records, 6)
	assert.Equal(t, "step1", records[0].StepID)
	assert.Empty(t, records[0].State)
	assert.Equal(t, "starting step", records[0].Logs[0].Message)
	assert.Equal(t, "T-1", records[1].State["step1.taskId"])
	assert.Equal(t, "step3", records[5].StepID)
}

func TestEngine_ConditionBranches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newFakeRegistry().
		add("check", outputs(map[string]any{"score": 7})).
		add("escalate", outputs(map[string]any{"level": "high"})).
		add("archive", outputs(map[string]any{"archived": true}))

	saveWorkflow(t, store, "triage",
		&NodeStep{ID: "check", Node: "check"},
		&ConditionStep{ID: "urgent", Condition: `state["check.score"] > 5 && event.priority >= 2`, OnTrue: "escalate", OnFalse: "archive"},
		&NodeStep{ID: "escalate", Node: "escalate"},
		&NodeStep{ID: "archive", Node: "archive"},
	)

	engine := NewEngine(reg, store, zap.NewNop())

	run, err := engine.Run(ctx, "triage", map[string]any{"priority": 3})
	require.NoError(t, err)
	assert.Equal(t, true, run.State["condition:urgent"])
	assert.Equal(t, "high", run.State["escalate.level"])
	// escalate 没有 on_success，顺延到 archive
	assert.Equal(t, true, run.State["archive.archived"])

	run, err = engine.Run(ctx, "triage", map[string]any{"priority": 1})
	require.NoError(t, err)
	assert.Equal(t, false, run.State["condition:urgent"])
	assert.NotContains(t, run.State, "escalate")
	assert.Equal(t, true, run.State["archive.archived"])
}

func TestEngine_ConditionFallsThroughWithoutBranches(t *testing.T) {
	store := NewMemoryStore()
	reg := newFakeRegistry().add("done", outputs(map[string]any{"ok": true}))
	saveWorkflow(t, store, "wf",
		&ConditionStep{ID: "gate", Condition: "event.enabled"},
		&NodeStep{ID: "done", Node: "done"},
	)

	run, err := NewEngine(reg, store, nil).Run(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, false, run.State["condition:gate"])
	assert.Equal(t, true, run.State["done.ok"])
}

func TestEngine_ConditionEvaluationErrorIsFalse(t *testing.T) {
	store := NewMemoryStore()
	reg := newFakeRegistry().
		add("yes", outputs(map[string]any{"v": 1})).
		add("no", outputs(map[string]any{"v": 0}))

	// 未经 Compile 直接保存的非法表达式
	saveWorkflow(t, store, "wf",
		&ConditionStep{ID: "broken", Condition: "state.count >", OnTrue: "yes", OnFalse: "no"},
		&NodeStep{ID: "yes", Node: "yes", OnSuccess: "no"},
		&NodeStep{ID: "no", Node: "no"},
	)

	run, err := NewEngine(reg, store, zaptest.NewLogger(t)).Run(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, false, run.State["condition:broken"])
	assert.NotContains(t, run.State, "yes")
	assert.Equal(t, 0, run.State["no.v"])
}

func TestEngine_LoopDetectedPersistsFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newFakeRegistry().add("work", outputs(map[string]any{"done": true}))

	saveWorkflow(t, store, "looping",
		&NodeStep{ID: "work", Node: "work"},
		&ConditionStep{ID: "again", Condition: `state["work.done"] == true`, OnTrue: "work", OnFalse: "work"},
	)

	run, err := NewEngine(reg, store, zaptest.NewLogger(t)).Run(ctx, "looping", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrWorkflowLoopDetected))
	require.NotNil(t, run)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "work", run.CurrentStep)
	assert.Contains(t, run.Error, "loop detected")

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	// 失败前累积的状态也被保留
	assert.Equal(t, true, stored.State["condition:again"])
}

func TestEngine_MissingNodeFailsRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newFakeRegistry()
	reg.defs["hollow"] = &NodeDefinition{ID: "hollow"}

	for _, node := range []string{"ghost", "hollow"} {
		saveWorkflow(t, store, node, &NodeStep{ID: "s1", Node: node})

		run, err := NewEngine(reg, store, nil).Run(ctx, node, nil)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrNodeNotRegistered), node)
		assert.Equal(t, RunStatusFailed, run.Status)
		assert.Equal(t, "s1", run.CurrentStep)
	}
}

func TestEngine_NodeStatusError(t *testing.T) {
	ctx := context.Background()
	failing := func(msg string) NodeExecutor {
		return func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			return NodeResult{Status: NodeStatusError, Error: msg}, nil
		}
	}

	t.Run("fails run with node message", func(t *testing.T) {
		store := NewMemoryStore()
		reg := newFakeRegistry().add("charge", failing("card declined")).add("ship", outputs(nil))
		saveWorkflow(t, store, "wf",
			&NodeStep{ID: "charge", Node: "charge"},
			&NodeStep{ID: "ship", Node: "ship"},
		)

		run, err := NewEngine(reg, store, nil).Run(ctx, "wf", nil)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrNodeExecutionFailure))
		assert.Contains(t, run.Error, "card declined")
		assert.Equal(t, "charge", run.CurrentStep)
		assert.NotContains(t, run.State, "ship")
	})

	t.Run("generic message when node gives none", func(t *testing.T) {
		store := NewMemoryStore()
		reg := newFakeRegistry().add("charge", failing(""))
		saveWorkflow(t, store, "wf", &NodeStep{ID: "charge", Node: "charge"})

		run, err := NewEngine(reg, store, nil).Run(ctx, "wf", nil)
		require.Error(t, err)
		assert.Contains(t, run.Error, `node "charge" reported an error`)
	})

	t.Run("routes to on_failure", func(t *testing.T) {
		store := NewMemoryStore()
		reg := newFakeRegistry().
			add("charge", failing("card declined")).
			add("ship", outputs(map[string]any{"shipped": true})).
			add("refund", outputs(map[string]any{"refunded": true}))
		saveWorkflow(t, store, "wf",
			&NodeStep{ID: "charge", Node: "charge", OnFailure: "refund"},
			&NodeStep{ID: "ship", Node: "ship", OnSuccess: ""},
			&NodeStep{ID: "refund", Node: "refund"},
		)

		run, err := NewEngine(reg, store, nil).Run(ctx, "wf", nil)
		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, run.Status)
		assert.Equal(t, "card declined", run.State["charge.error"])
		assert.Equal(t, true, run.State["refund.refunded"])
		assert.NotContains(t, run.State, "ship")
	})
}

func TestEngine_ExecutorErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("connection reset")
	reg := newFakeRegistry().
		add("erroring", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			return NodeResult{}, boom
		}).
		add("panicking", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			panic("nil map write")
		})

	saveWorkflow(t, store, "err", &NodeStep{ID: "call", Node: "erroring"})
	saveWorkflow(t, store, "panic", &NodeStep{ID: "call", Node: "panicking"})
	engine := NewEngine(reg, store, zaptest.NewLogger(t))

	run, err := engine.Run(ctx, "err", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, types.IsCode(err, types.ErrNodeExecutionFailure))
	assert.Equal(t, RunStatusFailed, run.Status)

	run, err = engine.Run(ctx, "panic", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	stored, getErr := store.GetRun(ctx, run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, RunStatusFailed, stored.Status)
	assert.Equal(t, "call", stored.CurrentStep)
}

func TestEngine_WorkflowNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run, err := NewEngine(newFakeRegistry(), store, nil).Run(ctx, "missing", nil)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))

	runs, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEngine_RegistryLoadError(t *testing.T) {
	reg := newFakeRegistry()
	reg.loadErr = errors.New("catalog unavailable")

	_, err := NewEngine(reg, NewMemoryStore(), nil).Run(context.Background(), "wf", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, reg.loadErr)
}

func TestEngine_StorageFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := &flakyStorage{MemoryStore: mem, failStep: "second"}
	reg := newFakeRegistry().add("n", outputs(map[string]any{"x": 1}))
	saveWorkflow(t, mem, "wf",
		&NodeStep{ID: "first", Node: "n"},
		&NodeStep{ID: "second", Node: "n"},
	)

	run, err := NewEngine(reg, store, nil).Run(ctx, "wf", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStorageFailure))
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "second", run.CurrentStep)
	assert.Equal(t, 1, run.State["first.x"])
}

func TestEngine_StateKeysAreWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	reg := newFakeRegistry().add("n", outputs(map[string]any{"b": 1}))
	// 步骤 a 的输出占用了 "a.b"，步骤 "a.b" 不能再写同名键
	saveWorkflow(t, store, "wf",
		&NodeStep{ID: "a", Node: "n"},
		&NodeStep{ID: "a.b", Node: "n"},
	)

	run, err := NewEngine(reg, store, nil).Run(context.Background(), "wf", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNodeExecutionFailure))
	assert.Equal(t, 1, run.State["a.b"])
}

func TestEngine_NodeLoggerCapturedInRunLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newFakeRegistry().add("talk", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
		nc.Logger.Info("calling upstream", zap.String("endpoint", "crm"))
		assert.NotEmpty(t, nc.RunID)
		assert.Equal(t, "speak", nc.StepID)
		return NodeResult{}, nil
	})
	saveWorkflow(t, store, "wf", &NodeStep{ID: "speak", Node: "talk"})

	run, err := NewEngine(reg, store, zaptest.NewLogger(t)).Run(ctx, "wf", nil)
	require.NoError(t, err)

	records, err := store.ListStepStates(ctx, run.ID)
	require.NoError(t, err)
	last := records[len(records)-1]

	var found bool
	for _, entry := range last.Logs {
		if entry.Message == "calling upstream" {
			found = true
			assert.Equal(t, "speak", entry.StepID)
			assert.Equal(t, "info", entry.Level)
			assert.Equal(t, "crm", entry.Fields["endpoint"])
		}
	}
	assert.True(t, found, "node log entry should be persisted with the step snapshot")
}

func TestEngine_NodeCannotMutateRunState(t *testing.T) {
	store := NewMemoryStore()
	reg := newFakeRegistry().
		add("first", outputs(map[string]any{"v": "original"})).
		add("vandal", func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			nc.State["first.v"] = "tampered"
			return NodeResult{}, nil
		})
	saveWorkflow(t, store, "wf",
		&NodeStep{ID: "first", Node: "first"},
		&NodeStep{ID: "second", Node: "vandal"},
	)

	run, err := NewEngine(reg, store, nil).Run(context.Background(), "wf", nil)
	require.NoError(t, err)
	assert.Equal(t, "original", run.State["first.v"])
}

func TestEngine_RecorderObservesRunsAndSteps(t *testing.T) {
	store := NewMemoryStore()
	rec := &countingRecorder{}
	reg := newFakeRegistry().add("n", outputs(nil))
	saveWorkflow(t, store, "ok", &NodeStep{ID: "a", Node: "n"}, &ConditionStep{ID: "c", Condition: "true"})
	saveWorkflow(t, store, "bad", &NodeStep{ID: "a", Node: "absent"})

	engine := NewEngine(reg, store, nil, WithRecorder(rec))
	_, err := engine.Run(context.Background(), "ok", nil)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), "bad", nil)
	require.Error(t, err)

	assert.Equal(t, 1, rec.runs[RunStatusCompleted])
	assert.Equal(t, 1, rec.runs[RunStatusFailed])
	assert.Equal(t, 3, rec.steps)
	assert.Equal(t, 1, rec.failures)
}

func TestEngine_EmptyPlanCompletes(t *testing.T) {
	store := NewMemoryStore()
	saveWorkflow(t, store, "empty")

	run, err := NewEngine(newFakeRegistry(), store, nil).Run(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
}

// ctxStore 像真实数据库驱动一样拒绝已取消的 context
type ctxStore struct {
	*MemoryStore
}

func (s ctxStore) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, state map[string]any, errMsg, currentStep string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.UpdateRunStatus(ctx, runID, status, state, errMsg, currentStep)
}

func (s ctxStore) RecordStepState(ctx context.Context, runID, stepID string, state map[string]any, logs []LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.RecordStepState(ctx, runID, stepID, state, logs)
}

func TestEngine_FailureIsPersistedAfterContextEnds(t *testing.T) {
	tests := []struct {
		name string
		stop func(cancel context.CancelFunc) NodeExecutor
		want error
	}{
		{
			name: "cancelled",
			stop: func(cancel context.CancelFunc) NodeExecutor {
				return func(context.Context, NodeContext) (NodeResult, error) {
					cancel()
					return NodeResult{Outputs: map[string]any{"ok": true}}, nil
				}
			},
			want: context.Canceled,
		},
		{
			name: "deadline exceeded",
			stop: func(context.CancelFunc) NodeExecutor {
				return func(ctx context.Context, _ NodeContext) (NodeResult, error) {
					<-ctx.Done()
					return NodeResult{}, nil
				}
			},
			want: context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ctxStore{NewMemoryStore()}
			saveWorkflow(t, store.MemoryStore, "sync",
				&NodeStep{ID: "pull", Node: "pull"},
				&NodeStep{ID: "push", Node: "push"},
			)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			reg := newFakeRegistry().
				add("pull", tt.stop(cancel)).
				add("push", outputs(map[string]any{"pushed": true}))

			run, err := NewEngine(reg, store, zaptest.NewLogger(t)).Run(ctx, "sync", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			require.NotNil(t, run)
			assert.Equal(t, RunStatusFailed, run.Status)

			stored, err := store.GetRun(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, RunStatusFailed, stored.Status)
			assert.Equal(t, "pull", stored.CurrentStep)
			assert.NotEmpty(t, stored.Error)
			assert.NotContains(t, stored.State, "push.pushed")
		})
	}
}
