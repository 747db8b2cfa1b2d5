package recovery

import (
	"sort"

	"recovery_bot/internal/recovery/models"
)

// BuildBatches 把单个用户的已分级消息按档位分组
// 每个非空档位产出一个批次，批次内消息按 MessageID 升序
func BuildBatches(userID int64, messages []models.RecoveredMessage, classifier *Classifier) []models.RecoveryBatch {
	if len(messages) == 0 {
		return nil
	}

	grouped := make(map[models.PriorityTier][]models.RecoveredMessage)
	for _, msg := range messages {
		grouped[msg.Tier] = append(grouped[msg.Tier], msg)
	}

	batches := make([]models.RecoveryBatch, 0, len(grouped))
	for tier, group := range grouped {
		sort.Slice(group, func(i, j int) bool {
			return group[i].MessageID < group[j].MessageID
		})
		batches = append(batches, models.RecoveryBatch{
			UserID:      userID,
			Tier:        tier,
			Messages:    group,
			PacingDelay: classifier.Pacing(tier),
		})
	}

	sortBatches(batches)
	return batches
}

// MergeBatches 把多个用户的批次合并成一个全局回放序列
// 排序是批次器契约的一部分：档位升序（时效性高的先回放），
// 同档位按用户 ID，再按批次首条消息 ID，保证结果确定
func MergeBatches(all ...[]models.RecoveryBatch) []models.RecoveryBatch {
	var merged []models.RecoveryBatch
	for _, batches := range all {
		merged = append(merged, batches...)
	}
	sortBatches(merged)
	return merged
}

// sortBatches 全局唯一的批次排序比较器
func sortBatches(batches []models.RecoveryBatch) {
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Tier != batches[j].Tier {
			return batches[i].Tier < batches[j].Tier
		}
		if batches[i].UserID != batches[j].UserID {
			return batches[i].UserID < batches[j].UserID
		}
		return firstMessageID(batches[i]) < firstMessageID(batches[j])
	})
}

func firstMessageID(b models.RecoveryBatch) int64 {
	if len(b.Messages) == 0 {
		return 0
	}
	return b.Messages[0].MessageID
}
