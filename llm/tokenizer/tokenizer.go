package tokenizer

import (
	"strings"

	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// conversationOverhead 一组消息整体的起始开销，与 OpenAI chat 格式的计数方式一致
const conversationOverhead = 3

// Tokenizer 统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（发送方标记、分隔符等）。
	CountMessages(messages []types.AgentMessage) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 为模型选择分词器：已知的 OpenAI 系列模型使用 tiktoken，其余回退到估算器。
func ForModel(model string) Tokenizer {
	if _, ok := lookupEncoding(model); ok {
		return NewTiktokenTokenizer(model)
	}
	return NewEstimatorTokenizer(model)
}

// Counter adapts a Tokenizer to types.TokenCounter. Counting errors (for
// example a tiktoken encoding that cannot be loaded) fall back to the
// estimator so callers never see a zero count for non-empty text.
type Counter struct {
	tok      Tokenizer
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

// NewCounter wraps tok. A nil tok uses the estimator directly.
func NewCounter(tok Tokenizer, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := NewEstimatorTokenizer("")
	if tok == nil {
		tok = fallback
	}
	return &Counter{tok: tok, fallback: fallback, logger: logger.With(zap.String("component", "tokenizer"))}
}

// CountTokens implements types.TokenCounter.
func (c *Counter) CountTokens(text string) int {
	n, err := c.tok.CountTokens(text)
	if err == nil {
		return n
	}
	c.logger.Debug("tokenizer failed, using estimator",
		zap.String("tokenizer", c.tok.Name()),
		zap.Error(err))
	n, _ = c.fallback.CountTokens(text)
	return n
}

var _ types.TokenCounter = (*Counter)(nil)

func hasModelPrefix(model, prefix string) bool {
	return strings.HasPrefix(model, prefix)
}
