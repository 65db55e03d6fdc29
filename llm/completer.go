package llm

import (
	"context"
	"strings"

	"github.com/BaSui01/agentcoord/llm/retry"
	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// Completer 单轮文本补全后端，用于摘要与计划生成
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// CompleterFunc 将函数适配为 Completer
type CompleterFunc struct {
	ID string
	Fn func(ctx context.Context, prompt string) (string, error)
}

// Complete 实现 Completer
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f.Fn(ctx, prompt)
}

// Name 实现 Completer
func (f CompleterFunc) Name() string {
	if f.ID == "" {
		return "func"
	}
	return f.ID
}

// RetryingCompleter 对上游错误按策略重试，空响应视为失败
type RetryingCompleter struct {
	inner  Completer
	policy retry.Policy
	logger *zap.Logger
}

// WithRetry 用重试策略包装 c
func WithRetry(c Completer, policy retry.Policy, logger *zap.Logger) *RetryingCompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingCompleter{
		inner:  c,
		policy: policy,
		logger: logger.With(zap.String("component", "completer"), zap.String("backend", c.Name())),
	}
}

// Name 实现 Completer
func (r *RetryingCompleter) Name() string {
	return r.inner.Name()
}

// Complete 实现 Completer
func (r *RetryingCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return retry.Do(ctx, r.policy, r.logger, func(ctx context.Context) (string, error) {
		out, err := r.inner.Complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", types.NewError(types.ErrUpstreamError, "empty completion").
				WithProvider(r.inner.Name()).
				WithRetryable(true)
		}
		return out, nil
	})
}
