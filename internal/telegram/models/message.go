package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ArchivedMessage 私聊消息归档
// 入站处理器对每条私聊文本消息都会落一条记录，哪怕下游管线当时不可用，
// 恢复扫描用它和用户游标比对来找出缺口
type ArchivedMessage struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	TelegramMessageID int64              `bson:"telegram_message_id"` // Telegram 消息 ID（会话内单调递增）
	ChatID            int64              `bson:"chat_id"`             // 私聊场景下等于对端用户 ID
	UserID            int64              `bson:"user_id"`             // 发送者 ID
	FromBot           bool               `bson:"from_bot"`            // 是否为 Bot 自己发出的消息
	Text              string             `bson:"text,omitempty"`
	SentAt            time.Time          `bson:"sent_at"`
	CreatedAt         time.Time          `bson:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at"`
}

// Interaction 一次完整的对话交互记录
// 恢复回放产生的交互带 is_recovered 标记与原始平台消息信息
type Interaction struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	UserID             int64              `bson:"user_id"`
	UserMessage        string             `bson:"user_message"`
	BotResponse        string             `bson:"bot_response"`
	PlatformMessageID  int64              `bson:"platform_message_id,omitempty"`
	PlatformTimestamp  *time.Time         `bson:"platform_timestamp,omitempty"`
	IsRecovered        bool               `bson:"is_recovered"`
	ResponseTimeMillis int64              `bson:"response_time_millis,omitempty"`
	CreatedAt          time.Time          `bson:"created_at"`
}
