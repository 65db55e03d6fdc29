package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentcoord/types"
)

// StepKind 步骤类型标签，只在序列化边界使用
type StepKind string

const (
	StepKindNode      StepKind = "node"
	StepKindCondition StepKind = "condition"
)

// Step 计划中的一个步骤。只有 *NodeStep 与 *ConditionStep 两种实现，
// 调用方通过类型 switch 分派。
type Step interface {
	StepID() string
	Kind() StepKind
	clone() Step
	isStep()
}

// NodeStep 调用注册表中的节点执行器
type NodeStep struct {
	ID        string         `json:"id" yaml:"id"`
	Node      string         `json:"node" yaml:"node"`
	Inputs    map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OnSuccess string         `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure string         `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

func (s *NodeStep) StepID() string { return s.ID }
func (s *NodeStep) Kind() StepKind { return StepKindNode }
func (s *NodeStep) isStep()        {}

func (s *NodeStep) clone() Step {
	out := *s
	out.Inputs = cloneMap(s.Inputs)
	return &out
}

// ConditionStep 对布尔表达式求值并选择分支
type ConditionStep struct {
	ID        string `json:"id" yaml:"id"`
	Condition string `json:"condition" yaml:"condition"`
	OnTrue    string `json:"on_true,omitempty" yaml:"on_true,omitempty"`
	OnFalse   string `json:"on_false,omitempty" yaml:"on_false,omitempty"`
}

func (s *ConditionStep) StepID() string { return s.ID }
func (s *ConditionStep) Kind() StepKind { return StepKindCondition }
func (s *ConditionStep) isStep()        {}

func (s *ConditionStep) clone() Step {
	out := *s
	return &out
}

// Plan 编译后的工作流计划。编译后视为不可变，重新保存同名计划即整体替换。
type Plan struct {
	Name          string
	Trigger       string
	Steps         []Step
	RequiredNodes []string
	MissingNodes  []string
}

// Clone 深拷贝计划
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		Name:          p.Name,
		Trigger:       p.Trigger,
		RequiredNodes: append([]string(nil), p.RequiredNodes...),
		MissingNodes:  append([]string(nil), p.MissingNodes...),
		Steps:         make([]Step, len(p.Steps)),
	}
	for i, s := range p.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

// StepIndex 返回步骤 id 到位置的映射
func (p *Plan) StepIndex() map[string]int {
	idx := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		idx[s.StepID()] = i
	}
	return idx
}

// =============================================================================
// 序列化形式
// =============================================================================

// StepSpec 步骤的扁平序列化形式（JSON / YAML）
type StepSpec struct {
	Type      StepKind       `json:"type" yaml:"type"`
	ID        string         `json:"id" yaml:"id"`
	Node      string         `json:"node,omitempty" yaml:"node,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OnSuccess string         `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure string         `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	OnTrue    string         `json:"on_true,omitempty" yaml:"on_true,omitempty"`
	OnFalse   string         `json:"on_false,omitempty" yaml:"on_false,omitempty"`
}

// PlanSpec 计划的序列化形式
type PlanSpec struct {
	Name          string     `json:"name" yaml:"name"`
	Trigger       string     `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Steps         []StepSpec `json:"steps" yaml:"steps"`
	RequiredNodes []string   `json:"required_nodes,omitempty" yaml:"required_nodes,omitempty"`
	MissingNodes  []string   `json:"missing_nodes,omitempty" yaml:"missing_nodes,omitempty"`
}

// Spec 转换为序列化形式
func (p *Plan) Spec() PlanSpec {
	spec := PlanSpec{
		Name:          p.Name,
		Trigger:       p.Trigger,
		Steps:         make([]StepSpec, 0, len(p.Steps)),
		RequiredNodes: append([]string(nil), p.RequiredNodes...),
		MissingNodes:  append([]string(nil), p.MissingNodes...),
	}
	for _, s := range p.Steps {
		switch st := s.(type) {
		case *NodeStep:
			spec.Steps = append(spec.Steps, StepSpec{
				Type:      StepKindNode,
				ID:        st.ID,
				Node:      st.Node,
				Inputs:    cloneMap(st.Inputs),
				OnSuccess: st.OnSuccess,
				OnFailure: st.OnFailure,
			})
		case *ConditionStep:
			spec.Steps = append(spec.Steps, StepSpec{
				Type:      StepKindCondition,
				ID:        st.ID,
				Condition: st.Condition,
				OnTrue:    st.OnTrue,
				OnFalse:   st.OnFalse,
			})
		}
	}
	return spec
}

// Plan 从序列化形式构造计划。type 为空时根据 condition 字段推断。
func (s PlanSpec) Plan() (*Plan, error) {
	plan := &Plan{
		Name:          s.Name,
		Trigger:       s.Trigger,
		Steps:         make([]Step, 0, len(s.Steps)),
		RequiredNodes: append([]string(nil), s.RequiredNodes...),
		MissingNodes:  append([]string(nil), s.MissingNodes...),
	}
	for i, st := range s.Steps {
		kind := st.Type
		if kind == "" {
			if st.Condition != "" {
				kind = StepKindCondition
			} else {
				kind = StepKindNode
			}
		}
		switch kind {
		case StepKindNode:
			plan.Steps = append(plan.Steps, &NodeStep{
				ID:        st.ID,
				Node:      st.Node,
				Inputs:    cloneMap(st.Inputs),
				OnSuccess: st.OnSuccess,
				OnFailure: st.OnFailure,
			})
		case StepKindCondition:
			plan.Steps = append(plan.Steps, &ConditionStep{
				ID:        st.ID,
				Condition: st.Condition,
				OnTrue:    st.OnTrue,
				OnFalse:   st.OnFalse,
			})
		default:
			return nil, types.Errorf(types.ErrInvalidPlan, "step %d (%q): unknown type %q", i, st.ID, st.Type)
		}
	}
	return plan, nil
}

// MarshalJSON 以 PlanSpec 形式编码
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Spec())
}

// UnmarshalJSON 从 PlanSpec 形式解码
func (p *Plan) UnmarshalJSON(data []byte) error {
	var spec PlanSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	decoded, err := spec.Plan()
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}
