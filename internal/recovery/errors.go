package recovery

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
)

// 平台错误分类：恢复流程需要区分"等一下再来"、"永远进不去"和"真错误"
var (
	// ErrPrivacyRestricted 对端隐私设置或封禁导致无法触达，按空结果处理
	ErrPrivacyRestricted = errors.New("peer privacy restricted")

	// ErrAdminRequired 操作需要管理员权限，按空结果处理
	ErrAdminRequired = errors.New("admin rights required")
)

// FloodWaitError 平台限流，要求等待 RetryAfter 后重试
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.RetryAfter)
}

// ClassifyError 把 Telegram API 错误翻译为恢复流程的错误分类
// 无法归类的错误原样返回
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		retryAfter := time.Duration(tooMany.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return &FloodWaitError{RetryAfter: retryAfter}
	}

	if errors.Is(err, bot.ErrorForbidden) {
		return ErrPrivacyRestricted
	}

	msg := err.Error()
	if strings.Contains(msg, "bot was blocked") || strings.Contains(msg, "user is deactivated") {
		return ErrPrivacyRestricted
	}
	if strings.Contains(msg, "administrator rights") || strings.Contains(msg, "CHAT_ADMIN_REQUIRED") {
		return ErrAdminRequired
	}

	return err
}

// IsFloodWait 判断错误是否为平台限流，并返回要求的等待时长
func IsFloodWait(err error) (time.Duration, bool) {
	var flood *FloodWaitError
	if errors.As(err, &flood) {
		return flood.RetryAfter, true
	}
	return 0, false
}

// IsSkippable 判断是否为"允许跳过"类错误（隐私受限 / 需要管理员）
// 这类错误转成空结果，永远不让整轮操作失败
func IsSkippable(err error) bool {
	return errors.Is(err, ErrPrivacyRestricted) || errors.Is(err, ErrAdminRequired)
}
