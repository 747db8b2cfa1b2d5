package pipeline

import (
	"context"
	"time"
)

// RateLimiter Token Bucket 速率限制器
// 进程内所有出站 Telegram 请求（实时回复与恢复回放）共用一个实例，
// 保证并发回放时总请求速率不超过平台限制
type RateLimiter struct {
	tokens   chan struct{} // 令牌桶
	stopCh   chan struct{} // 停止信号
	interval time.Duration // 令牌补充间隔
}

// NewRateLimiter 创建速率限制器
// ratePerSecond: 每秒允许的请求数，非正数时取默认值 30
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 30
	}

	limiter := &RateLimiter{
		tokens:   make(chan struct{}, ratePerSecond),
		stopCh:   make(chan struct{}),
		interval: time.Second / time.Duration(ratePerSecond),
	}

	// 初始填满令牌桶
	for i := 0; i < ratePerSecond; i++ {
		limiter.tokens <- struct{}{}
	}

	go limiter.refill()

	return limiter
}

// Wait 阻塞直到拿到令牌或上下文取消
func (r *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.tokens:
		return nil
	}
}

// refill 定时补充令牌
func (r *RateLimiter) refill() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			select {
			case r.tokens <- struct{}{}:
			default:
				// 桶已满，丢弃本次令牌
			}
		}
	}
}

// Close 关闭速率限制器
func (r *RateLimiter) Close() {
	close(r.stopCh)
}
