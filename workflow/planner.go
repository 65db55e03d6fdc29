package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentcoord/llm"
	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

const plannerInstructions = `You design workflow plans. Reply with a single JSON object and nothing else.
Schema:
{"name": string, "trigger": string, "steps": [
  {"type": "node", "id": string, "node": string, "inputs": object, "on_success": string, "on_failure": string},
  {"type": "condition", "id": string, "condition": string, "on_true": string, "on_false": string}
]}
Conditions may only read "state" and "event", e.g. state["step1.ok"] == true && event.priority > 2.
Node inputs may reference earlier outputs with {{ state["step1.taskId"] }}.
Only use nodes from the catalog below.`

// PromptPlanner 把自然语言描述转换为编译后的计划
type PromptPlanner struct {
	completer llm.Completer
	registry  NodeRegistry
	logger    *zap.Logger
}

// NewPromptPlanner 创建计划生成器。registry 实现 NodeCatalog 时节点目录会写入提示词。
func NewPromptPlanner(completer llm.Completer, registry NodeRegistry, logger *zap.Logger) *PromptPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptPlanner{
		completer: completer,
		registry:  registry,
		logger:    logger.With(zap.String("component", "prompt_planner")),
	}
}

// Plan 生成并编译计划。name 非空时覆盖模型给出的名称。
func (p *PromptPlanner) Plan(ctx context.Context, name, prompt string) (*Plan, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, types.NewError(types.ErrInvalidPlan, "prompt is empty")
	}
	if p.registry != nil {
		if err := p.registry.EnsureLoaded(ctx); err != nil {
			return nil, fmt.Errorf("load node registry: %w", err)
		}
	}

	raw, err := p.completer.Complete(ctx, p.buildPrompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate plan with %s: %w", p.completer.Name(), err)
	}

	spec, err := decodePlanSpec(raw)
	if err != nil {
		p.logger.Warn("planner returned an unusable response", zap.Error(err), zap.Int("length", len(raw)))
		return nil, err
	}
	if name != "" {
		spec.Name = name
	}

	plan, err := spec.Plan()
	if err != nil {
		return nil, err
	}
	compiled, err := Compile(ctx, plan, p.registry)
	if err != nil {
		return nil, err
	}
	p.logger.Info("plan generated",
		zap.String("plan", compiled.Name),
		zap.Int("steps", len(compiled.Steps)),
		zap.Strings("missing_nodes", compiled.MissingNodes))
	return compiled, nil
}

func (p *PromptPlanner) buildPrompt(prompt string) string {
	var sb strings.Builder
	sb.WriteString(plannerInstructions)
	sb.WriteString("\n\nNode catalog:\n")

	catalog, ok := p.registry.(NodeCatalog)
	if !ok {
		sb.WriteString("(not available)\n")
	} else {
		defs := catalog.List()
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		for _, d := range defs {
			fmt.Fprintf(&sb, "- %s", d.ID)
			if d.Description != "" {
				fmt.Fprintf(&sb, ": %s", d.Description)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nRequest:\n")
	sb.WriteString(strings.TrimSpace(prompt))
	return sb.String()
}

// decodePlanSpec 从模型输出中提取 JSON（容忍 ``` 代码块与前后说明文字）
func decodePlanSpec(raw string) (PlanSpec, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return PlanSpec{}, types.NewError(types.ErrInvalidPlan, "planner response contains no JSON object")
	}

	var spec PlanSpec
	if err := json.Unmarshal([]byte(text[start:end+1]), &spec); err != nil {
		return PlanSpec{}, types.NewError(types.ErrInvalidPlan, "decode planner response").WithCause(err)
	}
	if len(spec.Steps) == 0 {
		return PlanSpec{}, types.NewError(types.ErrInvalidPlan, "planner response has no steps")
	}
	return spec, nil
}
