// Package retry 为 LLM 后端调用提供有限次数的重试与退避。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 重试策略
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试，总尝试次数为 MaxRetries+1）
	InitialDelay time.Duration // 第一次重试前的延迟
	MaxDelay     time.Duration // 延迟上限
	Multiplier   float64       // 指数退避倍数；Linear 为 true 时忽略
	Linear       bool          // 线性退避：delay = InitialDelay * attempt
	Jitter       bool          // ±25% 随机抖动

	// Retryable 判断错误是否可重试，为 nil 时除 context 取消/超时外都重试
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 默认策略：共 3 次尝试，线性 0.5s 递增退避
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Linear:       true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay 返回第 attempt 次重试（从 1 开始）前的等待时间
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		return 0
	}
	var delay float64
	if p.Linear {
		delay = float64(p.InitialDelay) * float64(attempt)
	} else {
		delay = float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter && delay > 0 {
		delay += (rand.Float64()*2 - 1) * delay * 0.25
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Do 执行 fn，失败时按策略重试，返回最后一次的结果
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.retryable(err) {
			return zero, err
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}
