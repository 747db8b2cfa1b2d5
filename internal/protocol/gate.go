package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recovery_bot/internal/logger"
)

// perMessageCostEstimate 每拦截一条消息预估节省的管线成本（两次 LLM 调用）
const perMessageCostEstimate = 0.045

// Gate 隔离闸门
// 读路径走缓存（TTL 300s），写路径先持久化再更新缓存，
// 缓存后端不可用时一律降级到持久化存储
type Gate struct {
	statusRepo     StatusRepository
	quarantineRepo QuarantineRepository
	cache          Cache

	// 进程内 ACTIVE 用户集合，仅作观测与热路径加速，持久化存储才是权威
	mu        sync.RWMutex
	activeSet map[int64]struct{}
}

// NewGate 创建隔离闸门
func NewGate(statusRepo StatusRepository, quarantineRepo QuarantineRepository, cache Cache) *Gate {
	return &Gate{
		statusRepo:     statusRepo,
		quarantineRepo: quarantineRepo,
		cache:          cache,
		activeSet:      make(map[int64]struct{}),
	}
}

// IsActive 用户是否处于静默状态
// 缓存 miss 时回源数据库并回填；缓存读写失败只记日志，不影响结果
func (g *Gate) IsActive(ctx context.Context, userID int64) (bool, error) {
	if status, ok, err := g.cache.GetStatus(ctx, userID); err == nil && ok {
		g.rememberStatus(userID, status)
		return status == StatusActive, nil
	} else if err != nil {
		logger.L().Warnf("Protocol cache read failed for user %d, falling back to store: %v", userID, err)
	}

	record, err := g.statusRepo.GetStatus(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve protocol status: %w", err)
	}

	if err := g.cache.SetStatus(ctx, userID, record.Status); err != nil {
		logger.L().Warnf("Protocol cache backfill failed for user %d: %v", userID, err)
	}
	g.rememberStatus(userID, record.Status)

	return record.Status == StatusActive, nil
}

// Activate 激活静默协议（写穿：先数据库，成功后才动缓存并广播）
// 返回值表示状态是否实际发生变化
func (g *Gate) Activate(ctx context.Context, userID int64, activatedBy, reason string) (bool, error) {
	return g.setStatus(ctx, userID, StatusActive, activatedBy, reason)
}

// Deactivate 解除静默协议
func (g *Gate) Deactivate(ctx context.Context, userID int64, deactivatedBy, reason string) (bool, error) {
	return g.setStatus(ctx, userID, StatusInactive, deactivatedBy, reason)
}

func (g *Gate) setStatus(ctx context.Context, userID int64, status Status, by, reason string) (bool, error) {
	previous, err := g.statusRepo.SetStatus(ctx, userID, status, by, reason)
	if err != nil {
		// 持久化失败时不碰缓存，避免缓存与存储出现分叉
		return false, fmt.Errorf("failed to persist protocol status: %w", err)
	}

	if err := g.cache.SetStatus(ctx, userID, status); err != nil {
		logger.L().Warnf("Protocol cache update failed for user %d: %v", userID, err)
	}
	g.rememberStatus(userID, status)

	action := "deactivated"
	if status == StatusActive {
		action = "activated"
	}
	if err := g.cache.PublishUpdate(ctx, UpdateEvent{Action: action, UserID: userID, By: by}); err != nil {
		logger.L().Warnf("Protocol update publish failed for user %d: %v", userID, err)
	}

	logger.L().Infof("Silence protocol %s: user=%d by=%s reason=%q", action, userID, by, reason)
	return previous != status, nil
}

// Enqueue 把被拦截的消息写入隔离队列
// 先持久化，再镜像到快速索引；索引失败不影响持久化结果
func (g *Gate) Enqueue(ctx context.Context, userID, messageID int64, text string, platformMessageID int64, contextPreview string) (string, error) {
	msg := &QuarantineMessage{
		MessageID:         messageID,
		UserID:            userID,
		Text:              text,
		PlatformMessageID: platformMessageID,
		ContextPreview:    contextPreview,
	}

	if err := g.quarantineRepo.Insert(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to enqueue quarantine message: %w", err)
	}

	if err := g.cache.IndexAdd(ctx, msg); err != nil {
		logger.L().Warnf("Quarantine index add failed for message %d: %v", messageID, err)
	}

	if err := g.statusRepo.IncrementQuarantined(ctx, userID, perMessageCostEstimate); err != nil {
		logger.L().Warnf("Quarantine counter increment failed for user %d: %v", userID, err)
	}

	logger.L().Infof("Quarantined message: user=%d message_id=%d quarantine_id=%s", userID, messageID, msg.ID)
	return msg.ID, nil
}

// ListQueue 列出最近的未处理隔离消息（新的在前）
// 优先走快速索引，索引不可用或为空时回落到数据库扫描
func (g *Gate) ListQueue(ctx context.Context, limit int) ([]*QuarantineMessage, error) {
	messages, err := g.cache.IndexRecent(ctx, limit)
	if err != nil {
		logger.L().Warnf("Quarantine index read failed, falling back to store scan: %v", err)
	} else if len(messages) > 0 {
		return messages, nil
	}

	messages, err = g.quarantineRepo.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine queue: %w", err)
	}
	return messages, nil
}

// Release 释放一条隔离消息（幂等：重复释放返回 ErrNotFound）
func (g *Gate) Release(ctx context.Context, messageID int64, releasedBy string) (*QuarantineMessage, error) {
	msg, err := g.quarantineRepo.MarkProcessed(ctx, messageID, releasedBy)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to release quarantine message: %w", err)
	}

	if err := g.cache.IndexRemove(ctx, msg.ID); err != nil {
		logger.L().Warnf("Quarantine index remove failed for %s: %v", msg.ID, err)
	}

	logger.L().Infof("Quarantine message released: message_id=%d by=%s", messageID, releasedBy)
	return msg, nil
}

// WarmCache 启动时批量预热：把所有 ACTIVE 用户灌入缓存与内存集合，
// 让冷进程的第一轮恢复扫描不需要逐用户回源
func (g *Gate) WarmCache(ctx context.Context) error {
	ids, err := g.statusRepo.ListActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm protocol cache: %w", err)
	}

	warmed := 0
	for _, id := range ids {
		if err := g.cache.SetStatus(ctx, id, StatusActive); err != nil {
			logger.L().Warnf("Protocol cache warm failed for user %d: %v", id, err)
			continue
		}
		warmed++
	}

	g.mu.Lock()
	g.activeSet = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		g.activeSet[id] = struct{}{}
	}
	g.mu.Unlock()

	logger.L().Infof("Protocol cache warmed: active_users=%d cached=%d", len(ids), warmed)
	return nil
}

// Status 查询用户的完整协议状态
func (g *Gate) Status(ctx context.Context, userID int64) (*UserStatus, error) {
	return g.statusRepo.GetStatus(ctx, userID)
}

// PurgeExpired 清理超期未释放的隔离消息
func (g *Gate) PurgeExpired(ctx context.Context) (int64, error) {
	purged, err := g.quarantineRepo.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		logger.L().Infof("Purged %d expired quarantine messages", purged)
	}
	return purged, nil
}

// ActiveCount 进程内观测到的 ACTIVE 用户数
func (g *Gate) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.activeSet)
}

func (g *Gate) rememberStatus(userID int64, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if status == StatusActive {
		g.activeSet[userID] = struct{}{}
	} else {
		delete(g.activeSet, userID)
	}
}
