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

// RetryPolicy 定义重试策略
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 第一次重试前的等待
	MaxDelay     time.Duration // 单次等待上限
	Multiplier   float64       // 指数退避倍数
	Jitter       bool          // ±25% 随机抖动

	// ShouldRetry 为 nil 时除 context 取消外的所有错误都重试
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回通用的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ModelListPolicy 是模型列表查询使用的策略：最多重试 3 次，
// 第 n 次重试前等待 2^n 秒，不加抖动。
func ModelListPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// BackoffRetryer 基于指数退避的重试器
type BackoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器，policy 为 nil 时使用默认策略
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *BackoffRetryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}

	return &BackoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Policy returns the normalised policy in use.
func (r *BackoffRetryer) Policy() RetryPolicy { return r.policy }

// Do 执行 fn，失败时按策略重试
func (r *BackoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 执行带返回值的 fn，失败时按 r 的策略重试
func Do[T any](ctx context.Context, r *BackoffRetryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.Delay(attempt)
			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
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
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.shouldRetry(err) {
			return zero, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// Delay 返回第 attempt 次重试前的等待：initial * multiplier^(attempt-1)
func (r *BackoffRetryer) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

func (r *BackoffRetryer) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if r.policy.ShouldRetry == nil {
		return true
	}
	return r.policy.ShouldRetry(err)
}
