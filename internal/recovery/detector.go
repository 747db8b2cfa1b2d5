package recovery

import (
	"context"
	"strings"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/recovery/models"
	"recovery_bot/internal/telegram/repository"
)

// GapDetector 缺口检测器
// 对单个用户比对消息归档与恢复游标，找出从未进入管线的入站消息
type GapDetector struct {
	archive    repository.ArchiveRepository
	classifier *Classifier
}

// NewGapDetector 创建缺口检测器
func NewGapDetector(archive repository.ArchiveRepository, classifier *Classifier) *GapDetector {
	return &GapDetector{archive: archive, classifier: classifier}
}

// FetchMissing 查询游标之后的未处理入站消息
// 语义：
//   - 只看 message_id > sinceMessageID 的入站非空文本消息
//   - 新用户（sinceMessageID=0）只回看最大可恢复年龄的窗口，不翻整段历史
//   - 隐私受限 / 需要管理员 / 平台限流一律按空结果处理，绝不让整轮操作崩掉
//   - 返回结果按 message_id 升序（回放顺序），且已带好分级标注
func (d *GapDetector) FetchMissing(ctx context.Context, userID, sinceMessageID int64, sinceTimestamp time.Time, limit int) ([]models.RecoveredMessage, int, error) {
	now := time.Now().UTC()

	if sinceMessageID == 0 {
		sinceTimestamp = now.Add(-d.classifier.MaxAge())
	}

	archived, err := d.archive.ListInboundSince(ctx, userID, sinceMessageID, sinceTimestamp, limit)
	if err != nil {
		if IsSkippable(err) {
			logger.L().Debugf("Gap detection skipped for user %d: %v", userID, err)
			return nil, 0, nil
		}
		if wait, ok := IsFloodWait(err); ok {
			logger.L().Warnf("Gap detection flood wait for user %d (%s), treating as empty", userID, wait)
			_ = sleepCtx(ctx, wait)
			return nil, 0, nil
		}
		return nil, 0, err
	}

	missing := make([]models.RecoveredMessage, 0, len(archived))
	skipped := 0
	for _, msg := range archived {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		age := now.Sub(msg.SentAt)
		result := d.classifier.Classify(age)
		if result.Skip {
			skipped++
			logger.L().Debugf("Message %d for user %d skipped: %s", msg.TelegramMessageID, userID, result.Reason)
			continue
		}

		missing = append(missing, models.RecoveredMessage{
			MessageID:  msg.TelegramMessageID,
			OccurredAt: msg.SentAt,
			UserID:     userID,
			Text:       text,
			Tier:       result.Tier,
			AgeHours:   age.Hours(),
		})
	}

	return missing, skipped, nil
}
