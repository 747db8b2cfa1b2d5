package recovery

import (
	"context"
	"time"
)

// InteractionResult 下游对话管线处理一条消息的结果
type InteractionResult struct {
	Response     string
	ResponseTime time.Duration
}

// Consumer 下游对话管线（外部协作方，黑盒）
// 恢复回放只负责决定"是否、何时"把消息交给它，不关心回复内容
type Consumer interface {
	// Process 处理一条（可能被补充了延迟说明的）用户消息
	// overrides 携带恢复元数据（platform_message_id / platform_timestamp 等）
	Process(ctx context.Context, userID int64, enrichedText string, overrides map[string]string) (*InteractionResult, error)
}

// Limiter 出站请求速率限制
type Limiter interface {
	Wait(ctx context.Context) error
}

// QuarantineGate 静默协议检查
// 处于 ACTIVE 的用户整轮跳过，连缺口检测都不做
type QuarantineGate interface {
	IsActive(ctx context.Context, userID int64) (bool, error)
}
