package pipeline

import (
	"context"
	"time"
)

// retryWithBackoff 对幂等的外部调用做有限次指数退避重试
// attempt从0开始，第n次失败后等待 baseWait * 2^n，context取消时立即返回
func retryWithBackoff(ctx context.Context, maxRetries int, baseWait time.Duration, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseWait <= 0 {
		baseWait = 500 * time.Millisecond
	}

	var lastErr error
	wait := baseWait
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return lastErr
}
