package batch

import (
	"context"
	"time"
)

// RetryPolicy 单个 (prompt, variant) 的重试策略
type RetryPolicy struct {
	// 总尝试次数（包含第一次），小于 1 时按 1 处理
	MaxAttempts int
	// 第 n 次失败后等待 n * Backoff
	Backoff time.Duration
	// 返回 false 的错误不再重试；为 nil 时所有错误都重试
	Retryable func(error) bool
}

// DefaultRetryPolicy 3 次尝试，间隔 3s、6s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     3 * time.Second,
	}
}

// Delay 第 attempt 次失败后的等待时间（线性递增）
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// sleepContext 等待 d，context 取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
