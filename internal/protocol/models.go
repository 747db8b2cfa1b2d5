package protocol

import "time"

// Status 静默协议状态
type Status string

const (
	StatusActive   Status = "ACTIVE"   // 已静默：该用户的消息全部进入隔离队列
	StatusInactive Status = "INACTIVE" // 正常
)

// Valid 状态值是否合法
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// UserStatus 每用户协议状态
type UserStatus struct {
	UserID                   int64      `json:"user_id"`
	Status                   Status     `json:"status"`
	ActivatedBy              string     `json:"activated_by,omitempty"`
	ActivatedAt              *time.Time `json:"activated_at,omitempty"`
	Reason                   string     `json:"reason,omitempty"`
	MessagesQuarantinedCount int64      `json:"messages_quarantined_count"`
	EstimatedCostSaved       float64    `json:"estimated_cost_saved"`
}

// AuditEntry 协议状态变更审计记录（只追加，不修改）
type AuditEntry struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Action         string    `json:"action"` // activated / deactivated
	PerformedBy    string    `json:"performed_by"`
	Reason         string    `json:"reason,omitempty"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
}

// QuarantineTTL 隔离消息的保留期，超期未释放的消息会被清理
const QuarantineTTL = 7 * 24 * time.Hour

// QuarantineMessage 被拦截的用户消息
type QuarantineMessage struct {
	ID                string     `json:"id"`
	MessageID         int64      `json:"message_id"`
	UserID            int64      `json:"user_id"`
	Text              string     `json:"text"`
	PlatformMessageID int64      `json:"platform_message_id"`
	ContextPreview    string     `json:"context_preview,omitempty"`
	ReceivedAt        time.Time  `json:"received_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Processed         bool       `json:"processed"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	ProcessedBy       string     `json:"processed_by,omitempty"`
}

// UpdateEvent 协议状态变更的广播事件（protocol_updates 频道）
type UpdateEvent struct {
	Action string `json:"action"` // activated / deactivated
	UserID int64  `json:"user_id"`
	By     string `json:"by"`
}
