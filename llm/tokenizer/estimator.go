package tokenizer

import (
	"github.com/BaSui01/agentcoord/types"
)

// EstimatorTokenizer 没有已知编码时的回退实现，复用 types.EstimateTokenizer 的字符启发式。
type EstimatorTokenizer struct {
	model string
	est   *types.EstimateTokenizer
}

// NewEstimatorTokenizer 创建估算分词器，model 仅用于标识
func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model, est: types.NewEstimateTokenizer()}
}

// CountTokens 实现 Tokenizer，从不返回错误
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	return e.est.CountTokens(text), nil
}

// CountMessages 实现 Tokenizer：每条消息计正文加信封开销，再加一次会话起始开销
func (e *EstimatorTokenizer) CountMessages(messages []types.AgentMessage) (int, error) {
	total := conversationOverhead
	for _, msg := range messages {
		total += e.est.CountMessageTokens(msg)
	}
	return total, nil
}

// Name 实现 Tokenizer
func (e *EstimatorTokenizer) Name() string {
	if e.model == "" {
		return "estimator"
	}
	return "estimator[" + e.model + "]"
}
