// Package retry 提供基于指数退避的统一重试策略
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"immigration-qa-api/pkg/logger"
)

// Policy 重试策略,所有外部依赖调用共用同一套参数
type Policy struct {
	MaxAttempts         int           // 含首次调用的最大尝试次数
	InitialInterval     time.Duration // 首次重试前的基础延迟
	MaxInterval         time.Duration // 单次延迟上限
	Multiplier          float64       // 延迟倍增系数
	RandomizationFactor float64       // 抖动系数,0 表示无抖动
}

// DefaultPolicy 返回默认重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Permanent 标记错误为不可重试,重试循环立即终止并返回原始错误
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = p.RandomizationFactor
	return bo
}

// Do 按策略重试无返回值的操作,context 取消时立即停止
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue 按策略重试带返回值的操作
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	maxTries := p.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil && attempt < maxTries {
			logger.Warn(ctx, "operation failed, retrying",
				"operation", op,
				"attempt", attempt,
				"max_attempts", maxTries,
				"error", err.Error(),
			)
		}
		return result, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(maxTries)),
	)
}
