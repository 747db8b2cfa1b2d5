package models

import "time"

// OperationType 恢复操作类型
type OperationType string

const (
	OperationTypeStartup OperationType = "startup_comprehensive" // 启动全量扫描
	OperationTypeManual  OperationType = "manual"                // 手动触发
)

// OperationStatus 恢复操作状态
type OperationStatus string

const (
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
)

// PriorityTier 按消息年龄划分的优先级档位，档位越小越先回放
type PriorityTier int

const (
	TierUrgent PriorityTier = 1 // <= 2 小时
	TierRecent PriorityTier = 2 // 2 ~ 12 小时（默认档）
	TierStale  PriorityTier = 3 // 细分边界开启时的 6 ~ 12 小时档
)

// String 返回档位名称
func (t PriorityTier) String() string {
	switch t {
	case TierUrgent:
		return "tier_1"
	case TierRecent:
		return "tier_2"
	case TierStale:
		return "tier_3"
	default:
		return "tier_unknown"
	}
}

// Valid 档位是否合法
func (t PriorityTier) Valid() bool {
	switch t {
	case TierUrgent, TierRecent, TierStale:
		return true
	default:
		return false
	}
}

// ClassificationResult 分级结果
// Skip=true 表示该消息超过最大可恢复年龄，只计入 skipped 计数，不做回放
type ClassificationResult struct {
	Tier   PriorityTier
	Skip   bool
	Reason string
}

// UserCursor 每用户恢复游标（用户维度的持久化高水位）
// LastProcessedMessageID 单调不减，是"哪些消息已进入对话管线"的唯一权威
type UserCursor struct {
	UserID                 int64     `json:"user_id"`
	LastProcessedMessageID int64     `json:"last_processed_message_id"`
	LastProcessedAt        time.Time `json:"last_processed_at"`
	TotalRecoveredCount    int64     `json:"total_recovered_count"`
	LastRecoveryCheckAt    time.Time `json:"last_recovery_check_at"`
}

// CursorPoint 批量查询返回的游标位置
type CursorPoint struct {
	MessageID int64
	Timestamp time.Time
}

// RecoveryOperation 一次恢复操作的持久化记录
// 创建后 status 只能从 running 迁移到 completed / failed，终态后不再变更
type RecoveryOperation struct {
	ID                string            `json:"id"`
	OperationType     OperationType     `json:"operation_type"`
	Status            OperationStatus   `json:"status"`
	StartedAt         time.Time         `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	UsersChecked      int               `json:"users_checked"`
	MessagesRecovered int               `json:"messages_recovered"`
	MessagesSkipped   int               `json:"messages_skipped"`
	ErrorsEncountered int               `json:"errors_encountered"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ErrorDetails      string            `json:"error_details,omitempty"`
}

// RecoveredMessage 单次恢复扫描中检测到的未处理消息（仅存在于内存）
type RecoveredMessage struct {
	MessageID  int64
	OccurredAt time.Time
	UserID     int64
	Text       string
	Tier       PriorityTier
	AgeHours   float64
}

// RecoveryBatch 同一用户同一档位的有序消息组，作为一个回放单元
// Messages 严格按 MessageID 升序，保证会话顺序
type RecoveryBatch struct {
	UserID      int64
	Tier        PriorityTier
	Messages    []RecoveredMessage
	PacingDelay time.Duration
}

// MaxMessageID 返回批次内最大的消息 ID（批次为空时返回 0）
func (b *RecoveryBatch) MaxMessageID() int64 {
	if len(b.Messages) == 0 {
		return 0
	}
	return b.Messages[len(b.Messages)-1].MessageID
}
