package governor

import (
	"context"

	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// Publisher 消息发布者，通常是 collaboration.Broker
type Publisher interface {
	Publish(ctx context.Context, msg types.AgentMessage) (types.AgentMessage, error)
}

// Gate 在发布前经过治理器。广播是拓扑级扇出，不经过治理检查；
// 线程治理器可选，按 Metadata["thread"] 分组。
type Gate struct {
	publisher Publisher
	governor  *Governor
	threads   *ThreadGovernor
	logger    *zap.Logger
}

// SendResult 一次发送的结果
type SendResult struct {
	Message   types.AgentMessage `json:"message"`
	Published bool               `json:"published"`
	Decision  Decision           `json:"decision"`
	Thread    *ThreadDecision    `json:"thread,omitempty"`
}

// NewGate 创建治理发送门。threads 可为 nil。
func NewGate(publisher Publisher, governor *Governor, threads *ThreadGovernor, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		publisher: publisher,
		governor:  governor,
		threads:   threads,
		logger:    logger.With(zap.String("component", "governed_gate")),
	}
}

// Send 治理放行后发布消息。被拦截的消息不发布，也不返回错误；
// 只有发布本身失败时返回错误。线程轮次只在发布成功后计入。
func (g *Gate) Send(ctx context.Context, msg types.AgentMessage) (SendResult, error) {
	if types.IsBroadcastAddress(msg.To) {
		out, err := g.publisher.Publish(ctx, msg)
		return SendResult{Message: out, Published: err == nil, Decision: Decision{Allowed: true, Reason: ReasonAllowed}}, err
	}

	result := SendResult{Message: msg}
	var ticket *ThreadTicket
	if thread := msg.MetadataString("thread"); thread != "" && g.threads != nil {
		var td ThreadDecision
		td, ticket = g.threads.Check(ctx, thread, msg)
		result.Thread = &td
		if ticket != nil {
			// 已 Commit 时为空操作
			defer ticket.Release()
		}
		if td.Outcome != OutcomeAllow {
			result.Decision = Decision{Reason: td.Reason, Similarity: td.Similarity}
			g.logger.Debug("message suppressed by thread governor",
				zap.String("from", msg.From),
				zap.String("thread", thread),
				zap.String("outcome", string(td.Outcome)),
			)
			return result, nil
		}
	}

	result.Decision = g.governor.Evaluate(ctx, msg.From, FromMessage(msg))
	if !result.Decision.Allowed {
		g.logger.Debug("message suppressed",
			zap.String("from", msg.From),
			zap.String("to", msg.To),
			zap.String("reason", string(result.Decision.Reason)),
		)
		return result, nil
	}

	out, err := g.publisher.Publish(ctx, msg)
	if err != nil {
		return result, err
	}
	if ticket != nil {
		ticket.Commit(out)
	}
	result.Message = out
	result.Published = true
	return result, nil
}
