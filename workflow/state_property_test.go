package workflow

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 节点输出双写：state[id] 与 state["id.key"] 都可查询，且同一步骤不能重复写入
func TestProperty_RunStateDualWrite(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("outputs are readable both namespaced and flattened", prop.ForAll(
		func(stepID string, outputs map[string]string) bool {
			state := NewRunState(nil)
			values := make(map[string]any, len(outputs))
			for k, v := range outputs {
				values[k] = v
			}
			if err := state.WriteOutputs(stepID, values); err != nil {
				t.Logf("write failed: %v", err)
				return false
			}

			nested, ok := state.Get(stepID)
			if !ok || len(nested.(map[string]any)) != len(outputs) {
				return false
			}
			for k, v := range outputs {
				got, ok := state.Get(stepID + "." + k)
				if !ok || got != v {
					t.Logf("key %s.%s: got %v want %v", stepID, k, got, v)
					return false
				}
			}
			if state.Len() != len(outputs)+1 {
				return false
			}

			// 只追加：同一步骤第二次写入必须失败
			return state.WriteOutputs(stepID, values) != nil
		},
		gen.Identifier(),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.Property("snapshots are isolated from later writes", prop.ForAll(
		func(first, second string) bool {
			if first == second {
				return true
			}
			state := NewRunState(map[string]any{"seed": map[string]any{"n": 1}})
			require.NoError(t, state.WriteOutputs(first, map[string]any{"v": 1}))
			snap := state.Snapshot()
			snap["seed"].(map[string]any)["n"] = 2

			if err := state.WriteOutputs(second, map[string]any{"v": 2}); err != nil {
				// second 与 first 的命名空间键冲突（如 "a" 与 "a.v"）
				return true
			}
			seed, _ := state.Get("seed")
			_, leaked := snap[second]
			return seed.(map[string]any)["n"] == 1 && !leaked
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestRunState_ConditionAndInitialKeys(t *testing.T) {
	state := NewRunState(map[string]any{"tenant": "acme"})

	require.NoError(t, state.WriteCondition("gate", true))
	assert.Error(t, state.WriteCondition("gate", false))

	err := state.WriteOutputs("tenant", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the initial state")

	v, ok := state.Get(ConditionKey("gate"))
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Equal(t, []string{"condition:gate", "tenant"}, state.Keys())
}

func TestPlan_JSONRoundTripPreservesStepKinds(t *testing.T) {
	plan := &Plan{
		Name:    "wf",
		Trigger: "orders.created",
		Steps: []Step{
			&NodeStep{ID: "a", Node: "n", Inputs: map[string]any{"x": "{{ event.id }}"}, OnFailure: "c"},
			&ConditionStep{ID: "c", Condition: "state.a.ok", OnTrue: "a"},
		},
		RequiredNodes: []string{"n"},
	}

	data, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"condition"`)

	var decoded Plan
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, plan.Spec(), decoded.Spec())

	_, err = PlanSpec{Name: "bad", Steps: []StepSpec{{ID: "x", Type: "loop"}}}.Plan()
	assert.Error(t, err)
}
