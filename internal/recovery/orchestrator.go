package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/recovery/models"
	"recovery_bot/internal/recovery/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ServiceConfig 恢复编排配置
type ServiceConfig struct {
	GroupSize        int           // 并发子组大小
	MaxConcurrent    int           // 同时做缺口检测的用户数上限
	MaxUsersPerSweep int           // 单轮扫描检查的用户数上限
	GroupPause       time.Duration // 子组之间的停顿
	ErrorThreshold   int           // 连续失败达到该值后放弃当前批次
	BackoffCap       time.Duration // 指数退避上限
	SweepTimeout     time.Duration // 启动全量扫描的硬超时
	UserTimeout      time.Duration // 单用户恢复的硬超时
	FetchLimit       int           // 每用户单次最多检测的消息数
}

func (c *ServiceConfig) applyDefaults() {
	if c.GroupSize <= 0 {
		c.GroupSize = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.MaxUsersPerSweep <= 0 {
		c.MaxUsersPerSweep = 50
	}
	if c.GroupPause <= 0 {
		c.GroupPause = 500 * time.Millisecond
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 3
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Minute
	}
	if c.UserTimeout <= 0 {
		c.UserTimeout = 10 * time.Minute
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 100
	}
}

// Service 恢复编排器
// 驱动 扫描 → 游标查询 → 缺口检测 → 闸门 → 分级分批 → 回放 → 游标推进 的完整链路，
// 所有依赖通过构造注入，不使用任何包级单例
type Service struct {
	cursorRepo repository.CursorRepository
	opRepo     repository.OperationRepository
	scanner    *DialogScanner
	detector   *GapDetector
	classifier *Classifier
	gate       QuarantineGate
	consumer   Consumer
	limiter    Limiter
	cfg        ServiceConfig
}

// NewService 创建恢复编排器
func NewService(
	cursorRepo repository.CursorRepository,
	opRepo repository.OperationRepository,
	scanner *DialogScanner,
	detector *GapDetector,
	classifier *Classifier,
	gate QuarantineGate,
	consumer Consumer,
	limiter Limiter,
	cfg ServiceConfig,
) *Service {
	cfg.applyDefaults()
	return &Service{
		cursorRepo: cursorRepo,
		opRepo:     opRepo,
		scanner:    scanner,
		detector:   detector,
		classifier: classifier,
		gate:       gate,
		consumer:   consumer,
		limiter:    limiter,
		cfg:        cfg,
	}
}

// opTracker 操作计数的内存累计与增量落库
type opTracker struct {
	mu sync.Mutex
	op *models.RecoveryOperation

	// 上次已落库的累计值，落库时只提交差值
	flushedUsers     int
	flushedRecovered int
	flushedSkipped   int
	flushedErrors    int
}

func (t *opTracker) add(users, recovered, skipped, errs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.op.UsersChecked += users
	t.op.MessagesRecovered += recovered
	t.op.MessagesSkipped += skipped
	t.op.ErrorsEncountered += errs
}

// userScanResult 单用户检测阶段的产出
type userScanResult struct {
	batches []models.RecoveryBatch
	skipped int
	errs    int
}

// RunStartupSweep 启动全量扫描
// 返回终态的操作记录；顶层失败时操作标记为 failed 并保留已累计的计数
func (s *Service) RunStartupSweep(ctx context.Context) (*models.RecoveryOperation, error) {
	return s.runSweep(ctx, models.OperationTypeStartup, nil)
}

// RunManualSweep 手动触发的全量扫描（同一套机制，仅类型不同）
func (s *Service) RunManualSweep(ctx context.Context, triggeredBy string) (*models.RecoveryOperation, error) {
	return s.runSweep(ctx, models.OperationTypeManual, map[string]string{"triggered_by": triggeredBy})
}

func (s *Service) runSweep(ctx context.Context, opType models.OperationType, metadata map[string]string) (*models.RecoveryOperation, error) {
	op := &models.RecoveryOperation{
		ID:            uuid.New().String(),
		OperationType: opType,
		StartedAt:     time.Now().UTC(),
		Metadata:      metadata,
	}
	if err := s.opRepo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to record recovery operation: %w", err)
	}
	tracker := &opTracker{op: op}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	logger.L().Infof("Recovery sweep started: op=%s type=%s", op.ID, opType)

	if err := s.sweep(ctx, tracker); err != nil {
		s.finishFailed(tracker, err)
		return op, nil
	}

	s.finishCompleted(tracker)
	return op, nil
}

func (s *Service) sweep(ctx context.Context, tracker *opTracker) error {
	userIDs, err := s.scanner.ScanAllDialogs(ctx)
	if err != nil {
		return fmt.Errorf("dialog scan failed: %w", err)
	}
	if len(userIDs) == 0 {
		logger.L().Info("Recovery sweep found no dialogs")
		return nil
	}

	if len(userIDs) > s.cfg.MaxUsersPerSweep {
		logger.L().Infof("Recovery sweep capping users: %d -> %d", len(userIDs), s.cfg.MaxUsersPerSweep)
		userIDs = userIDs[:s.cfg.MaxUsersPerSweep]
	}

	cursors, err := s.cursorRepo.GetLastMessagePerUser(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("bulk cursor lookup failed: %w", err)
	}

	allBatches, err := s.detectPhase(ctx, tracker, userIDs, cursors)
	if err != nil {
		return err
	}

	merged := MergeBatches(allBatches...)
	if len(merged) == 0 {
		logger.L().Infof("Recovery sweep found no gaps: op=%s users=%d", tracker.op.ID, tracker.op.UsersChecked)
		return nil
	}

	s.replayAll(ctx, tracker, merged)
	return ctx.Err()
}

// detectPhase 有界并发地对每个用户做闸门检查与缺口检测
func (s *Service) detectPhase(ctx context.Context, tracker *opTracker, userIDs []int64, cursors map[int64]models.CursorPoint) ([][]models.RecoveryBatch, error) {
	sem := make(chan struct{}, s.cfg.MaxConcurrent)

	var mu sync.Mutex
	var all [][]models.RecoveryBatch

	for start := 0; start < len(userIDs); start += s.cfg.GroupSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := start + s.cfg.GroupSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var wg sync.WaitGroup
		for _, userID := range userIDs[start:end] {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}

				result := s.scanUser(ctx, userID, cursors[userID])
				tracker.add(1, 0, result.skipped, result.errs)

				if len(result.batches) > 0 {
					mu.Lock()
					all = append(all, result.batches)
					mu.Unlock()
				}
			}(userID)
		}
		wg.Wait()

		s.flushCounters(ctx, tracker)

		// 子组间停顿
		if end < len(userIDs) {
			if err := sleepCtx(ctx, s.cfg.GroupPause); err != nil {
				return nil, err
			}
		}
	}

	return all, nil
}

// scanUser 单用户的闸门检查 + 缺口检测 + 分批
func (s *Service) scanUser(ctx context.Context, userID int64, point models.CursorPoint) userScanResult {
	active, err := s.gate.IsActive(ctx, userID)
	if err != nil {
		logger.L().Errorf("Quarantine check failed for user %d: %v", userID, err)
		return userScanResult{errs: 1}
	}
	if active {
		// 静默用户整轮跳过，不做缺口检测
		logger.L().Debugf("User %d silenced, skipping recovery", userID)
		return userScanResult{skipped: 1}
	}

	missing, skipped, err := s.detector.FetchMissing(ctx, userID, point.MessageID, point.Timestamp, s.cfg.FetchLimit)
	if err != nil {
		logger.L().Errorf("Gap detection failed for user %d: %v", userID, err)
		return userScanResult{errs: 1}
	}

	if len(missing) == 0 {
		// 无缺口也要刷新检查时间，驱动陈旧度监控
		if point.MessageID > 0 {
			if err := s.cursorRepo.TouchCheckedAt(ctx, userID); err != nil {
				logger.L().Warnf("Failed to touch cursor for user %d: %v", userID, err)
			}
		}
		return userScanResult{skipped: skipped}
	}

	return userScanResult{
		batches: BuildBatches(userID, missing, s.classifier),
		skipped: skipped,
	}
}

// replayAll 按全局档位顺序逐批回放
func (s *Service) replayAll(ctx context.Context, tracker *opTracker, batches []models.RecoveryBatch) {
	for _, batch := range batches {
		if ctx.Err() != nil {
			return
		}

		recovered, lastID, lastAt, batchErrs := s.replayBatch(ctx, batch)
		tracker.add(0, recovered, 0, batchErrs)

		// 游标只在批次成功（或按阈值放弃剩余）后推进到已处理的最大 ID，
		// 崩溃重跑只会重新检测到真正未处理的尾部
		if recovered > 0 && lastID > 0 {
			if err := s.advanceCursor(ctx, batch.UserID, lastID, lastAt, int64(recovered)); err != nil {
				// 推进失败不能静默吞掉：计入错误，下一轮扫描会重新回放该批次
				logger.L().Errorf("Cursor advance failed for user %d (batch left for next sweep): %v", batch.UserID, err)
				tracker.add(0, 0, 0, 1)
			}
		}

		s.flushCounters(ctx, tracker)
	}
}

// replayBatch 回放单个批次
// 返回成功条数、最后成功消息的 ID 与时间、错误条数。失败的消息原地退避重试，
// 连续失败达到阈值时放弃本批次剩余消息（不影响其它批次）——游标因此永远
// 停在最后一条成功消息上，失败的消息留给下一轮扫描重新检测
func (s *Service) replayBatch(ctx context.Context, batch models.RecoveryBatch) (recovered int, lastID int64, lastAt time.Time, errCount int) {
	consecutiveErrors := 0
	total := len(batch.Messages)

	logger.L().Infof("Replaying batch: user=%d tier=%s messages=%d", batch.UserID, batch.Tier, total)

	for i, msg := range batch.Messages {
		enriched := enrichDelayedMessage(msg)
		overrides := map[string]string{
			"platform_message_id": fmt.Sprintf("%d", msg.MessageID),
			"platform_timestamp":  msg.OccurredAt.UTC().Format(time.RFC3339),
			"is_recovered":        "true",
		}

		// 同一条消息重试到成功或连续失败达到阈值，绝不跳过它去回放后面的
		// 消息：一旦后面的消息先成功，游标会越过失败的这条，它就永久丢了
		for {
			if ctx.Err() != nil {
				return recovered, lastID, lastAt, errCount
			}

			if err := s.limiter.Wait(ctx); err != nil {
				return recovered, lastID, lastAt, errCount
			}

			_, err := s.consumer.Process(ctx, msg.UserID, enriched, overrides)
			if err == nil {
				break
			}

			errCount++
			consecutiveErrors++
			logger.L().Errorf("Replay failed: user=%d message_id=%d consecutive=%d err=%v",
				msg.UserID, msg.MessageID, consecutiveErrors, err)

			if consecutiveErrors >= s.cfg.ErrorThreshold {
				logger.L().Warnf("Abandoning batch after %d consecutive errors: user=%d tier=%s remaining=%d",
					consecutiveErrors, batch.UserID, batch.Tier, total-i)
				return recovered, lastID, lastAt, errCount
			}

			if wait, ok := IsFloodWait(err); ok {
				_ = sleepCtx(ctx, wait)
			} else {
				_ = sleepCtx(ctx, s.backoffDelay(consecutiveErrors))
			}
		}

		consecutiveErrors = 0
		recovered++
		lastID = msg.MessageID
		lastAt = msg.OccurredAt

		_ = sleepCtx(ctx, s.dynamicDelay(batch.PacingDelay, i, total))
	}

	return recovered, lastID, lastAt, errCount
}

// backoffDelay 指数退避：min(2^n 秒, 上限)
func (s *Service) backoffDelay(consecutiveErrors int) time.Duration {
	d := time.Duration(math.Pow(2, float64(consecutiveErrors))) * time.Second
	if d > s.cfg.BackoffCap {
		d = s.cfg.BackoffCap
	}
	return d
}

// dynamicDelay 回放节奏：基础档位间隔 × (1 − 0.3 × 批内进度) × 随机抖动(0.8~1.2)
// 节奏随批次推进略微加快，抖动避免并发批次形成同步脉冲
func (s *Service) dynamicDelay(base time.Duration, position, total int) time.Duration {
	if total <= 0 {
		return base
	}
	progress := float64(position) / float64(total)
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(base) * (1 - 0.3*progress) * jitter)
}

// advanceCursor 带退避重试的游标推进
func (s *Service) advanceCursor(ctx context.Context, userID, messageID int64, timestamp time.Time, recovered int64) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		return s.cursorRepo.UpdateCursor(ctx, userID, messageID, timestamp, recovered)
	}, policy)
}

// RecoverUser 手动恢复单个用户
// 用户没有游标时立即失败（不允许手动路径凭空建游标）
func (s *Service) RecoverUser(ctx context.Context, userID int64, triggeredBy string) (*models.RecoveryOperation, error) {
	op := &models.RecoveryOperation{
		ID:            uuid.New().String(),
		OperationType: models.OperationTypeManual,
		StartedAt:     time.Now().UTC(),
		Metadata: map[string]string{
			"user_id":      fmt.Sprintf("%d", userID),
			"triggered_by": triggeredBy,
		},
	}
	if err := s.opRepo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to record recovery operation: %w", err)
	}
	tracker := &opTracker{op: op}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UserTimeout)
	defer cancel()

	cursor, err := s.cursorRepo.GetCursor(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = fmt.Errorf("no cursor for user %d, nothing to recover from", userID)
		}
		s.finishFailed(tracker, err)
		return op, err
	}

	result := s.scanUser(ctx, userID, models.CursorPoint{
		MessageID: cursor.LastProcessedMessageID,
		Timestamp: cursor.LastProcessedAt,
	})
	tracker.add(1, 0, result.skipped, result.errs)

	s.replayAll(ctx, tracker, MergeBatches(result.batches))

	if ctx.Err() != nil {
		s.finishFailed(tracker, ctx.Err())
		return op, nil
	}
	s.finishCompleted(tracker)
	return op, nil
}

// LastOperation 返回最近一次恢复操作记录
func (s *Service) LastOperation(ctx context.Context) (*models.RecoveryOperation, error) {
	return s.opRepo.Latest(ctx)
}

// ListCursors 列出全部游标（最久未检查的在前）
func (s *Service) ListCursors(ctx context.Context) ([]*models.UserCursor, error) {
	return s.cursorRepo.ListAllCursors(ctx)
}

// flushCounters 把内存计数与已落库值的差额提交到操作记录
func (s *Service) flushCounters(ctx context.Context, tracker *opTracker) {
	tracker.mu.Lock()
	du := tracker.op.UsersChecked - tracker.flushedUsers
	dr := tracker.op.MessagesRecovered - tracker.flushedRecovered
	ds := tracker.op.MessagesSkipped - tracker.flushedSkipped
	de := tracker.op.ErrorsEncountered - tracker.flushedErrors
	tracker.mu.Unlock()

	if du == 0 && dr == 0 && ds == 0 && de == 0 {
		return
	}

	if err := s.opRepo.UpdateCounters(ctx, tracker.op.ID, du, dr, ds, de); err != nil {
		logger.L().Warnf("Failed to flush operation counters for %s: %v", tracker.op.ID, err)
		return
	}

	tracker.mu.Lock()
	tracker.flushedUsers += du
	tracker.flushedRecovered += dr
	tracker.flushedSkipped += ds
	tracker.flushedErrors += de
	tracker.mu.Unlock()
}

func (s *Service) finishCompleted(tracker *opTracker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.flushCounters(ctx, tracker)
	if err := s.opRepo.MarkCompleted(ctx, tracker.op.ID); err != nil {
		logger.L().Errorf("Failed to mark operation %s completed: %v", tracker.op.ID, err)
	}
	now := time.Now().UTC()
	tracker.op.Status = models.OperationStatusCompleted
	tracker.op.CompletedAt = &now

	logger.L().Infof("Recovery operation completed: op=%s users=%d recovered=%d skipped=%d errors=%d",
		tracker.op.ID, tracker.op.UsersChecked, tracker.op.MessagesRecovered,
		tracker.op.MessagesSkipped, tracker.op.ErrorsEncountered)
}

func (s *Service) finishFailed(tracker *opTracker, cause error) {
	// 顶层失败也要把已累计的计数保留下来
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.flushCounters(ctx, tracker)
	if err := s.opRepo.MarkFailed(ctx, tracker.op.ID, cause.Error()); err != nil {
		logger.L().Errorf("Failed to mark operation %s failed: %v", tracker.op.ID, err)
	}
	now := time.Now().UTC()
	tracker.op.Status = models.OperationStatusFailed
	tracker.op.CompletedAt = &now
	tracker.op.ErrorDetails = cause.Error()

	logger.L().Errorf("Recovery operation failed: op=%s err=%v users=%d recovered=%d skipped=%d errors=%d",
		tracker.op.ID, cause, tracker.op.UsersChecked, tracker.op.MessagesRecovered,
		tracker.op.MessagesSkipped, tracker.op.ErrorsEncountered)
}

// enrichDelayedMessage 为迟到消息合成延迟说明前缀，让管线能自然地回应延迟
func enrichDelayedMessage(msg models.RecoveredMessage) string {
	var ageText string
	switch {
	case msg.AgeHours < 1:
		ageText = fmt.Sprintf("%.0f minutes", msg.AgeHours*60)
	case msg.AgeHours < 2:
		ageText = "about an hour"
	default:
		ageText = fmt.Sprintf("about %.0f hours", msg.AgeHours)
	}
	return fmt.Sprintf("[This message was sent %s ago and is only being processed now. Acknowledge the delay naturally.]\n%s",
		ageText, msg.Text)
}
