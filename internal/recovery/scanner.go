package recovery

import (
	"context"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/telegram/repository"
)

// DialogScanner 枚举归档中出现过的全部私聊对端
// 分页读取并在页间做小停顿，遇到平台限流时睡满要求的时长后
// 返回已拿到的部分结果，而不是让整轮操作失败
type DialogScanner struct {
	archive   repository.ArchiveRepository
	pageSize  int
	pagePause time.Duration
}

// NewDialogScanner 创建会话扫描器
func NewDialogScanner(archive repository.ArchiveRepository, pageSize int, pagePause time.Duration) *DialogScanner {
	if pageSize <= 0 {
		pageSize = 100
	}
	if pagePause <= 0 {
		pagePause = 500 * time.Millisecond
	}
	return &DialogScanner{
		archive:   archive,
		pageSize:  pageSize,
		pagePause: pagePause,
	}
}

// ScanAllDialogs 返回所有已知私聊用户 ID
func (s *DialogScanner) ScanAllDialogs(ctx context.Context) ([]int64, error) {
	var all []int64
	after := int64(0)

	for {
		page, err := s.archive.ListDialogUserIDs(ctx, after, s.pageSize)
		if err != nil {
			if wait, ok := IsFloodWait(err); ok {
				// 平台要求等待：睡满时长后带着部分结果返回
				logger.L().Warnf("Dialog scan hit flood wait (%s), returning %d partial dialogs", wait, len(all))
				if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
					return all, nil
				}
				return all, nil
			}
			if len(all) > 0 {
				logger.L().Warnf("Dialog scan failed mid-way, returning %d partial dialogs: %v", len(all), err)
				return all, nil
			}
			return nil, err
		}

		all = append(all, page...)
		if len(page) < s.pageSize {
			break
		}
		after = page[len(page)-1]

		// 页间停顿，避免打满平台配额
		if err := sleepCtx(ctx, s.pagePause); err != nil {
			return all, nil
		}
	}

	logger.L().Debugf("Dialog scan found %d dialogs", len(all))
	return all, nil
}

// sleepCtx 可取消的睡眠
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
