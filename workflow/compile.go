package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow/dsl"
)

// Compile 校验计划并生成可执行的新计划：
//   - 步骤 id 非空且唯一，所有跳转引用都指向存在的步骤
//   - 条件表达式与输入占位符语法合法
//   - 表达式与分支目标都相同的条件步骤合并为一个，所有引用改写到保留的步骤
//   - 计算 RequiredNodes，registry 非空时通过 FindMissingNodes 计算 MissingNodes
//
// 输入计划不会被修改。对同一输入重复编译得到结构相同的计划。
func Compile(ctx context.Context, plan *Plan, registry NodeRegistry) (*Plan, error) {
	if plan == nil {
		return nil, types.NewError(types.ErrInvalidPlan, "plan is nil")
	}
	out := plan.Clone()
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return nil, types.NewError(types.ErrInvalidPlan, "plan name is required")
	}

	if err := validateSteps(out); err != nil {
		return nil, err
	}
	dedupeConditions(out)

	out.RequiredNodes = requiredNodes(out)
	out.MissingNodes = nil
	if registry != nil {
		if err := registry.EnsureLoaded(ctx); err != nil {
			return nil, fmt.Errorf("load node registry: %w", err)
		}
		missing := registry.FindMissingNodes(out)
		if len(missing) > 0 {
			out.MissingNodes = sortedUnique(missing)
		}
	}
	return out, nil
}

func validateSteps(p *Plan) error {
	ids := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s == nil {
			return types.Errorf(types.ErrInvalidPlan, "step %d is nil", i)
		}
		id := s.StepID()
		if id == "" {
			return types.Errorf(types.ErrInvalidPlan, "step %d has no id", i)
		}
		if _, dup := ids[id]; dup {
			return types.Errorf(types.ErrInvalidPlan, "duplicate step id %q", id)
		}
		ids[id] = struct{}{}
	}

	ref := func(from, field, target string) error {
		if target == "" {
			return nil
		}
		if _, ok := ids[target]; !ok {
			return types.Errorf(types.ErrInvalidPlan, "step %q: %s references unknown step %q", from, field, target)
		}
		return nil
	}

	for _, s := range p.Steps {
		switch st := s.(type) {
		case *NodeStep:
			if st.Node == "" {
				return types.Errorf(types.ErrInvalidPlan, "step %q has no node", st.ID)
			}
			if err := validatePlaceholders(st.Inputs); err != nil {
				return types.Errorf(types.ErrInvalidPlan, "step %q inputs", st.ID).WithCause(err)
			}
			if err := ref(st.ID, "on_success", st.OnSuccess); err != nil {
				return err
			}
			if err := ref(st.ID, "on_failure", st.OnFailure); err != nil {
				return err
			}
		case *ConditionStep:
			if err := dsl.Validate(st.Condition); err != nil {
				return types.Errorf(types.ErrInvalidPlan, "step %q condition", st.ID).WithCause(err)
			}
			if err := ref(st.ID, "on_true", st.OnTrue); err != nil {
				return err
			}
			if err := ref(st.ID, "on_false", st.OnFalse); err != nil {
				return err
			}
		default:
			return types.Errorf(types.ErrInvalidPlan, "step %q has unsupported type %T", s.StepID(), s)
		}
	}
	return nil
}

// dedupeConditions 合并重复的条件步骤直到不动点
func dedupeConditions(p *Plan) {
	for dedupeOnce(p) {
	}
}

func dedupeOnce(p *Plan) bool {
	next := naturalNext(p.Steps)

	alias := make(map[string]string)
	seen := make(map[string]string)
	for _, s := range p.Steps {
		cs, ok := s.(*ConditionStep)
		if !ok {
			continue
		}
		key := conditionKey(cs, next[cs.ID])
		if kept, dup := seen[key]; dup {
			alias[cs.ID] = kept
			continue
		}
		seen[key] = cs.ID
	}
	if len(alias) == 0 {
		return false
	}

	resolve := func(id string) string {
		if to, ok := alias[id]; ok {
			return to
		}
		return id
	}

	kept := make([]Step, 0, len(p.Steps)-len(alias))
	for _, s := range p.Steps {
		if _, removed := alias[s.StepID()]; !removed {
			kept = append(kept, s)
		}
	}
	newNext := naturalNext(kept)

	for _, s := range kept {
		id := s.StepID()
		// 删除步骤后自然后继可能变化，原先隐式的跳转需要显式化
		implicit := ""
		if oldNext := resolve(next[id]); oldNext != newNext[id] {
			implicit = oldNext
		}
		switch st := s.(type) {
		case *NodeStep:
			st.OnSuccess = resolve(st.OnSuccess)
			st.OnFailure = resolve(st.OnFailure)
			if st.OnSuccess == "" {
				st.OnSuccess = implicit
			}
		case *ConditionStep:
			st.OnTrue = resolve(st.OnTrue)
			st.OnFalse = resolve(st.OnFalse)
			if st.OnTrue == "" {
				st.OnTrue = implicit
			}
			if st.OnFalse == "" {
				st.OnFalse = implicit
			}
		}
	}
	p.Steps = kept
	return true
}

// conditionKey 规范化表达式 + 实际生效的两个分支目标
func conditionKey(cs *ConditionStep, fallthroughID string) string {
	expr := cs.Condition
	if compiled, err := dsl.Compile(cs.Condition); err == nil {
		expr = compiled.Canonical()
	}
	onTrue, onFalse := cs.OnTrue, cs.OnFalse
	if onTrue == "" {
		onTrue = fallthroughID
	}
	if onFalse == "" {
		onFalse = fallthroughID
	}
	return expr + "\x00" + onTrue + "\x00" + onFalse
}

func naturalNext(steps []Step) map[string]string {
	next := make(map[string]string, len(steps))
	for i, s := range steps {
		if i+1 < len(steps) {
			next[s.StepID()] = steps[i+1].StepID()
		} else {
			next[s.StepID()] = ""
		}
	}
	return next
}

func requiredNodes(p *Plan) []string {
	var nodes []string
	for _, s := range p.Steps {
		if ns, ok := s.(*NodeStep); ok {
			nodes = append(nodes, ns.Node)
		}
	}
	return sortedUnique(nodes)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
