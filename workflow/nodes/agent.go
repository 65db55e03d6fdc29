package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"go.uber.org/zap"
)

// 智能体节点 id
const (
	NodeAgentSend      = "agent.send"
	NodeAgentSummarize = "agent.summarize"
)

// Sender 经治理后发送消息，通常是 governor.Gate
type Sender interface {
	Send(ctx context.Context, msg types.AgentMessage) (governor.SendResult, error)
}

// ThreadHistory 提供线程的有界消息历史，通常是 governor.ThreadGovernor
type ThreadHistory interface {
	History(threadID string) []types.AgentMessage
}

// Summarizer 把消息压缩成要点
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.AgentMessage) (string, error)
}

// AgentNodes 返回与智能体协作相关的节点。依赖为 nil 时节点仍可注册（用于校验计划），
// 执行时报告节点错误。
func AgentNodes(sender Sender, history ThreadHistory, summarizer Summarizer) []workflow.NodeDefinition {
	return []workflow.NodeDefinition{
		{
			ID:          NodeAgentSend,
			Name:        "Send agent message",
			Description: "sends inputs.content from inputs.from to inputs.to (type, intent, thread optional) through the governor; outputs published, reason, message_id",
			Executor:    sendNode(sender),
		},
		{
			ID:          NodeAgentSummarize,
			Name:        "Summarize thread",
			Description: "summarizes the recent history of inputs.thread into at most five bullet points; outputs summary, messages",
			Executor:    summarizeNode(history, summarizer),
		},
	}
}

func notConfigured(id string) workflow.NodeResult {
	return workflow.NodeResult{Status: workflow.NodeStatusError, Error: id + " is not configured in this process"}
}

func sendNode(sender Sender) workflow.NodeExecutor {
	return func(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
		if sender == nil {
			return notConfigured(NodeAgentSend), nil
		}
		msg := types.AgentMessage{
			From:    inputString(nc.Inputs, "from"),
			To:      inputString(nc.Inputs, "to"),
			Type:    types.MessageTypeTask,
			Content: inputString(nc.Inputs, "content"),
		}
		if raw := inputString(nc.Inputs, "type"); raw != "" {
			mt, err := types.ParseMessageType(raw)
			if err != nil {
				return workflow.NodeResult{Status: workflow.NodeStatusError, Error: err.Error()}, nil
			}
			msg.Type = mt
		}
		metadata := map[string]any{}
		for _, key := range []string{"intent", "thread"} {
			if v := inputString(nc.Inputs, key); v != "" {
				metadata[key] = v
			}
		}
		if len(metadata) > 0 {
			msg.Metadata = metadata
		}
		if err := msg.Validate(); err != nil {
			return workflow.NodeResult{Status: workflow.NodeStatusError, Error: err.Error()}, nil
		}

		res, err := sender.Send(ctx, msg)
		if err != nil {
			return workflow.NodeResult{Status: workflow.NodeStatusError, Error: err.Error()}, nil
		}

		outputs := map[string]any{
			"published": res.Published,
			"reason":    string(res.Decision.Reason),
		}
		if res.Published {
			outputs["message_id"] = res.Message.ID
		}
		if res.Thread != nil && res.Thread.Summary != "" {
			outputs["summary"] = res.Thread.Summary
		}
		if nc.Logger != nil {
			nc.Logger.Info("agent message sent",
				zap.String("from", msg.From),
				zap.String("to", msg.To),
				zap.Bool("published", res.Published),
				zap.String("reason", string(res.Decision.Reason)),
			)
		}
		return workflow.NodeResult{Outputs: outputs, Status: workflow.NodeStatusOK}, nil
	}
}

func summarizeNode(history ThreadHistory, summarizer Summarizer) workflow.NodeExecutor {
	return func(ctx context.Context, nc workflow.NodeContext) (workflow.NodeResult, error) {
		if history == nil || summarizer == nil {
			return notConfigured(NodeAgentSummarize), nil
		}
		thread := inputString(nc.Inputs, "thread")
		if thread == "" {
			return workflow.NodeResult{Status: workflow.NodeStatusError, Error: "inputs.thread is required"}, nil
		}
		msgs := history.History(thread)
		summary, err := summarizer.Summarize(ctx, msgs)
		if err != nil {
			return workflow.NodeResult{Status: workflow.NodeStatusError, Error: err.Error()}, nil
		}
		return workflow.NodeResult{
			Outputs: map[string]any{"summary": summary, "messages": len(msgs)},
			Status:  workflow.NodeStatusOK,
		}, nil
	}
}

func inputString(inputs map[string]any, key string) string {
	v, ok := inputs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}
