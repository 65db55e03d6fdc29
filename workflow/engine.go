package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow/dsl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const tracerName = "github.com/BaSui01/agentcoord/workflow"

// finalizeTimeout 写入运行终态的时限
const finalizeTimeout = 10 * time.Second

// Engine 按顺序执行编译后的计划，每个步骤持久化一次状态快照。
// 同一次运行的步骤严格串行；不同运行之间互不共享状态，可并发调用 Run。
type Engine struct {
	registry NodeRegistry
	storage  Storage
	logger   *zap.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithTracer 覆盖默认的全局 tracer
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine 创建执行引擎
func NewEngine(registry NodeRegistry, storage Storage, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry: registry,
		storage:  storage,
		logger:   logger.With(zap.String("component", "workflow_engine")),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 执行工作流。失败时先持久化 failed 状态（含 error 与 current_step），
// 再同时返回失败的运行记录与错误。
func (e *Engine) Run(ctx context.Context, workflowID string, event map[string]any) (*Run, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	if err := e.registry.EnsureLoaded(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load node registry: %w", err)
	}

	wf, err := e.storage.GetWorkflow(ctx, workflowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if wf.Plan == nil {
		err := types.Errorf(types.ErrInvalidPlan, "workflow %q has no plan", workflowID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	run, err := e.storage.StartRun(ctx, wf.ID, event, map[string]any{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("start run: %w", err)
	}
	span.SetAttributes(attribute.String("run.id", run.ID))
	ctx = types.WithRunID(types.WithWorkflowID(ctx, wf.ID), run.ID)

	logger := e.logger.With(zap.String("workflow_id", wf.ID), zap.String("run_id", run.ID))
	started := time.Now()

	ex := &execution{
		engine: e,
		plan:   wf.Plan,
		runID:  run.ID,
		event:  cloneMap(event),
		state:  NewRunState(run.State),
		log:    &runLog{},
		logger: logger,
	}

	if run, err = e.storage.UpdateRunStatus(ctx, run.ID, RunStatusRunning, ex.state.Snapshot(), "", ""); err != nil {
		return nil, fmt.Errorf("mark run running: %w", err)
	}
	logger.Info("workflow run started", zap.Int("steps", len(wf.Plan.Steps)))

	runErr := ex.execute(ctx)

	// 终态写入不随调用方取消：关停或超时中断的运行也要落成 failed
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("workflow run failed",
			zap.String("current_step", ex.current),
			zap.Error(runErr))

		failed, persistErr := e.storage.UpdateRunStatus(finalCtx, run.ID, RunStatusFailed, ex.state.Snapshot(), runErr.Error(), ex.current)
		e.recordRun(RunStatusFailed, started)
		if persistErr != nil {
			logger.Error("persist failed run", zap.Error(persistErr))
			return run, errors.Join(runErr, fmt.Errorf("persist failed run: %w", persistErr))
		}
		return failed, runErr
	}

	completed, err := e.storage.UpdateRunStatus(finalCtx, run.ID, RunStatusCompleted, ex.state.Snapshot(), "", "")
	if err != nil {
		return run, fmt.Errorf("mark run completed: %w", err)
	}
	e.recordRun(RunStatusCompleted, started)
	logger.Info("workflow run completed", zap.Duration("duration", time.Since(started)))
	return completed, nil
}

func (e *Engine) recordRun(status RunStatus, started time.Time) {
	if e.recorder != nil {
		e.recorder.RunFinished(status, time.Since(started))
	}
}

// execution 单次运行的可变状态
type execution struct {
	engine  *Engine
	plan    *Plan
	runID   string
	event   map[string]any
	state   *RunState
	log     *runLog
	logger  *zap.Logger
	current string
}

// execute 步骤循环。所有错误与 panic 都在这里汇总为一个 error 返回。
func (x *execution) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("workflow step panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = types.Errorf(types.ErrNodeExecutionFailure, "step %q panicked: %v", x.current, r)
		}
	}()

	if len(x.plan.Steps) == 0 {
		return nil
	}

	index := x.plan.StepIndex()
	visited := make(map[string]struct{}, len(x.plan.Steps))
	x.current = x.plan.Steps[0].StepID()

	for x.current != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, seen := visited[x.current]; seen {
			return types.Errorf(types.ErrWorkflowLoopDetected,
				"loop detected: step %q was already visited in this run", x.current)
		}
		visited[x.current] = struct{}{}

		pos, ok := index[x.current]
		if !ok {
			return types.Errorf(types.ErrInvalidPlan, "step %q does not exist in plan %q", x.current, x.plan.Name)
		}

		next, err := x.runStep(ctx, x.plan.Steps[pos], pos)
		if err != nil {
			return err
		}
		x.current = next
	}
	return nil
}

// runStep 执行单个步骤并返回下一个步骤 id（空串表示结束）
func (x *execution) runStep(ctx context.Context, step Step, pos int) (next string, err error) {
	stepID := step.StepID()
	ctx, span := x.engine.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.String("step.kind", string(step.Kind())),
	))
	started := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if x.engine.recorder != nil {
			x.engine.recorder.StepFinished(step.Kind(), err != nil, time.Since(started))
		}
	}()

	x.log.record(zapcore.InfoLevel, stepID, "starting step", map[string]any{"kind": string(step.Kind())})
	x.logger.Debug("starting step", zap.String("step_id", stepID), zap.String("kind", string(step.Kind())))
	if err := x.persist(ctx, stepID); err != nil {
		return "", err
	}

	fallthroughID := ""
	if pos+1 < len(x.plan.Steps) {
		fallthroughID = x.plan.Steps[pos+1].StepID()
	}

	switch s := step.(type) {
	case *ConditionStep:
		return x.runCondition(ctx, s, fallthroughID)
	case *NodeStep:
		return x.runNode(ctx, s, fallthroughID)
	default:
		return "", types.Errorf(types.ErrInvalidPlan, "step %q has unsupported type %T", stepID, step)
	}
}

func (x *execution) runCondition(ctx context.Context, s *ConditionStep, fallthroughID string) (string, error) {
	result := x.evalCondition(s)
	if err := x.state.WriteCondition(s.ID, result); err != nil {
		return "", err
	}
	x.log.record(zapcore.InfoLevel, s.ID, "condition evaluated", map[string]any{"result": result})
	if err := x.persist(ctx, s.ID); err != nil {
		return "", err
	}

	if result && s.OnTrue != "" {
		return s.OnTrue, nil
	}
	if !result && s.OnFalse != "" {
		return s.OnFalse, nil
	}
	return fallthroughID, nil
}

// evalCondition 表达式求值失败按 false 处理并记录日志
func (x *execution) evalCondition(s *ConditionStep) bool {
	result, err := dsl.Evaluate(s.Condition, dsl.Bindings{State: x.state.Snapshot(), Event: x.event})
	if err != nil {
		x.logger.Warn("condition evaluation failed, treating as false",
			zap.String("step_id", s.ID),
			zap.String("condition", s.Condition),
			zap.Error(err))
		x.log.record(zapcore.WarnLevel, s.ID, "condition evaluation failed", map[string]any{
			"condition": s.Condition,
			"error":     err.Error(),
		})
		return false
	}
	return result
}

func (x *execution) runNode(ctx context.Context, s *NodeStep, fallthroughID string) (string, error) {
	def, ok := x.engine.registry.Get(s.Node)
	if !ok || def == nil || def.Executor == nil {
		return "", types.Errorf(types.ErrNodeNotRegistered, "node %q used by step %q is not registered", s.Node, s.ID)
	}

	snapshot := x.state.Snapshot()
	bindings := dsl.Bindings{State: snapshot, Event: x.event}
	inputs, err := resolveInputs(s.Inputs, bindings)
	if err != nil {
		return "", types.Errorf(types.ErrNodeExecutionFailure, "step %q: resolve inputs", s.ID).WithCause(err)
	}

	res, err := def.Executor(ctx, NodeContext{
		RunID:  x.runID,
		StepID: s.ID,
		Inputs: inputs,
		State:  snapshot,
		Event:  cloneMap(x.event),
		Logger: stepLogger(x.logger, x.log, s.ID),
	})
	if err != nil {
		return "", types.Errorf(types.ErrNodeExecutionFailure, "node %q failed in step %q", s.Node, s.ID).WithCause(err)
	}

	if res.Status == NodeStatusError {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("node %q reported an error in step %q", s.Node, s.ID)
		}
		if s.OnFailure == "" {
			return "", types.NewError(types.ErrNodeExecutionFailure, msg)
		}
		// 有 on_failure 分支时错误写入 state 并改道
		if err := x.state.WriteOutputs(s.ID, map[string]any{"error": msg}); err != nil {
			return "", err
		}
		x.log.record(zapcore.WarnLevel, s.ID, "node reported error, following on_failure", map[string]any{
			"error":      msg,
			"on_failure": s.OnFailure,
		})
		if err := x.persist(ctx, s.ID); err != nil {
			return "", err
		}
		return s.OnFailure, nil
	}

	if err := x.state.WriteOutputs(s.ID, res.Outputs); err != nil {
		return "", err
	}
	x.log.record(zapcore.InfoLevel, s.ID, "step completed", map[string]any{"outputs": len(res.Outputs)})
	if err := x.persist(ctx, s.ID); err != nil {
		return "", err
	}

	if s.OnSuccess != "" {
		return s.OnSuccess, nil
	}
	return fallthroughID, nil
}

func (x *execution) persist(ctx context.Context, stepID string) error {
	if err := x.engine.storage.RecordStepState(ctx, x.runID, stepID, x.state.Snapshot(), x.log.snapshot()); err != nil {
		return types.Errorf(types.ErrStorageFailure, "record state for step %q", stepID).WithCause(err)
	}
	return nil
}
