package recovery

import (
	"fmt"
	"time"

	"recovery_bot/internal/recovery/models"
)

// Classifier 按消息年龄分级
// 默认采用两档加跳过的边界：<=2h 为一档，2~12h 为二档，超过最大年龄跳过。
// 配置 Tier3BoundaryHours 后启用细分：2~6h 为二档，6~12h 为三档。
type Classifier struct {
	tier1Boundary time.Duration // 一档上界
	tier3Boundary time.Duration // 三档下界，0 表示不启用细分
	maxAge        time.Duration // 超过即跳过
	pacing        map[models.PriorityTier]time.Duration
}

// ClassifierConfig 分级配置
type ClassifierConfig struct {
	Tier1Boundary time.Duration
	Tier3Boundary time.Duration
	MaxAge        time.Duration
	Tier1Pacing   time.Duration
	Tier2Pacing   time.Duration
	Tier3Pacing   time.Duration
}

// NewClassifier 创建分级器，零值字段使用默认边界
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Tier1Boundary <= 0 {
		cfg.Tier1Boundary = 2 * time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 12 * time.Hour
	}
	if cfg.Tier1Pacing <= 0 {
		cfg.Tier1Pacing = 500 * time.Millisecond
	}
	if cfg.Tier2Pacing <= 0 {
		cfg.Tier2Pacing = 2 * time.Second
	}
	if cfg.Tier3Pacing <= 0 {
		cfg.Tier3Pacing = 5 * time.Second
	}

	return &Classifier{
		tier1Boundary: cfg.Tier1Boundary,
		tier3Boundary: cfg.Tier3Boundary,
		maxAge:        cfg.MaxAge,
		pacing: map[models.PriorityTier]time.Duration{
			models.TierUrgent: cfg.Tier1Pacing,
			models.TierRecent: cfg.Tier2Pacing,
			models.TierStale:  cfg.Tier3Pacing,
		},
	}
}

// MaxAge 返回最大可恢复消息年龄
func (c *Classifier) MaxAge() time.Duration {
	return c.maxAge
}

// Classify 根据消息年龄返回分级结果
// 跳过不通过错误表达，调用方对 Skip 做普通分支即可
func (c *Classifier) Classify(age time.Duration) models.ClassificationResult {
	if age > c.maxAge {
		return models.ClassificationResult{
			Skip:   true,
			Reason: fmt.Sprintf("message age %.1fh exceeds max %.1fh", age.Hours(), c.maxAge.Hours()),
		}
	}
	if age <= c.tier1Boundary {
		return models.ClassificationResult{Tier: models.TierUrgent}
	}
	if c.tier3Boundary > 0 && age > c.tier3Boundary {
		return models.ClassificationResult{Tier: models.TierStale}
	}
	return models.ClassificationResult{Tier: models.TierRecent}
}

// Pacing 返回档位的基础回放间隔
func (c *Classifier) Pacing(tier models.PriorityTier) time.Duration {
	if d, ok := c.pacing[tier]; ok {
		return d
	}
	return c.pacing[models.TierRecent]
}
