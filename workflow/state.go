package workflow

import (
	"sort"

	"github.com/BaSui01/agentcoord/types"
)

const conditionKeyPrefix = "condition:"

// ConditionKey 条件步骤结果在 state 中的键
func ConditionKey(stepID string) string {
	return conditionKeyPrefix + stepID
}

// RunState 单次运行的状态存储。只追加：每个键只能由一个步骤写一次，
// 步骤只能写自己命名空间下的键，读取可见所有已写入的键。
type RunState struct {
	values map[string]any
	owners map[string]string
}

// NewRunState 以初始状态创建，初始键属于空 owner
func NewRunState(initial map[string]any) *RunState {
	s := &RunState{
		values: make(map[string]any, len(initial)),
		owners: make(map[string]string, len(initial)),
	}
	for k, v := range initial {
		s.values[k] = cloneValue(v)
		s.owners[k] = ""
	}
	return s
}

// Get 读取键
func (s *RunState) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len 键数量
func (s *RunState) Len() int {
	return len(s.values)
}

// Keys 排序后的键列表
func (s *RunState) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot 返回深拷贝，调用方修改不影响运行状态
func (s *RunState) Snapshot() map[string]any {
	return cloneMap(s.values)
}

// WriteOutputs 写入节点输出：state[stepID] = outputs，且每个 key 写入 state["stepID.key"]
func (s *RunState) WriteOutputs(stepID string, outputs map[string]any) error {
	if outputs == nil {
		outputs = map[string]any{}
	}
	keys := make([]string, 0, len(outputs)+1)
	keys = append(keys, stepID)
	for k := range outputs {
		keys = append(keys, stepID+"."+k)
	}
	if err := s.claim(stepID, keys); err != nil {
		return err
	}

	s.values[stepID] = cloneMap(outputs)
	for k, v := range outputs {
		s.values[stepID+"."+k] = cloneValue(v)
	}
	return nil
}

// WriteCondition 写入条件结果 state["condition:<stepID>"]
func (s *RunState) WriteCondition(stepID string, result bool) error {
	key := ConditionKey(stepID)
	if err := s.claim(stepID, []string{key}); err != nil {
		return err
	}
	s.values[key] = result
	return nil
}

func (s *RunState) claim(stepID string, keys []string) error {
	for _, k := range keys {
		if owner, taken := s.owners[k]; taken {
			return types.Errorf(types.ErrNodeExecutionFailure,
				"step %q cannot write state key %q already written by %s", stepID, k, ownerName(owner))
		}
	}
	for _, k := range keys {
		s.owners[k] = stepID
	}
	return nil
}

func ownerName(owner string) string {
	if owner == "" {
		return "the initial state"
	}
	return "step " + owner
}
