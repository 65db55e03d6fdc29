package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentcoord/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 内置节点 id
const (
	NodeSet  = "core.set"
	NodeNoop = "core.noop"
	NodeLog  = "core.log"
	NodeFail = "core.fail"
)

// Builtins 返回内置节点定义
func Builtins() []workflow.NodeDefinition {
	return []workflow.NodeDefinition{
		{
			ID:          NodeSet,
			Name:        "Set values",
			Description: "copies its resolved inputs to its outputs",
			Executor:    setNode,
		},
		{
			ID:          NodeNoop,
			Name:        "No-op",
			Description: "does nothing and produces no outputs",
			Executor:    noopNode,
		},
		{
			ID:          NodeLog,
			Name:        "Log message",
			Description: "writes inputs.message to the run log at inputs.level (debug|info|warn|error)",
			Executor:    logNode,
		},
		{
			ID:          NodeFail,
			Name:        "Fail",
			Description: "reports an error with inputs.message, following on_failure when set",
			Executor:    failNode,
		},
	}
}

// NewDefaultRegistry 创建已注册内置节点的注册表
func NewDefaultRegistry() *MapRegistry {
	return NewMapRegistry().MustRegister(Builtins()...)
}

func setNode(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
	out := make(map[string]any, len(nc.Inputs))
	for k, v := range nc.Inputs {
		out[k] = v
	}
	return workflow.NodeResult{Outputs: out, Status: workflow.NodeStatusOK}, nil
}

func noopNode(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
	return workflow.NodeResult{Status: workflow.NodeStatusOK}, nil
}

func logNode(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
	msg := fmt.Sprint(nc.Inputs["message"])
	if nc.Inputs["message"] == nil {
		msg = ""
	}

	level := zapcore.InfoLevel
	if raw, ok := nc.Inputs["level"].(string); ok && raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil || level > zapcore.ErrorLevel {
			return workflow.NodeResult{
				Status: workflow.NodeStatusError,
				Error:  fmt.Sprintf("unknown log level %q", raw),
			}, nil
		}
	}

	logger := nc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if ce := logger.Check(level, msg); ce != nil {
		ce.Write()
	}
	return workflow.NodeResult{
		Outputs: map[string]any{"message": msg, "level": level.String()},
		Status:  workflow.NodeStatusOK,
	}, nil
}

func failNode(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
	msg, _ := nc.Inputs["message"].(string)
	if msg == "" {
		msg = "failed by " + NodeFail
	}
	return workflow.NodeResult{Status: workflow.NodeStatusError, Error: msg}, nil
}
