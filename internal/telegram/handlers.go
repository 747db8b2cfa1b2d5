package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/protocol"
	recoveryModels "recovery_bot/internal/recovery/models"
	"recovery_bot/internal/telegram/models"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	// 普通命令 - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.handlePing))

	// 恢复命令（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/recover", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleRecover)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/recovery_status", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleRecoveryStatus)))

	// 静默协议命令（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/silence_on", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleSilenceOn)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/silence_off", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleSilenceOff)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/silence_status", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleSilenceStatus)))

	// 隔离队列命令（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/quarantine", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleQuarantineList)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/release", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleRelease)))

	logger.L().Debug("All handlers registered with async execution")
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n直接发消息即可开始对话。\n\n可用命令:\n/start - 开始\n/ping - 测试连接",
		update.Message.From.FirstName,
	)

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, "🏓 Pong!")
}

// handleRecover 处理 /recover 命令
// 不带参数时对全体用户扫描，带用户 ID 时只恢复该用户
func (b *Bot) handleRecover(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	triggeredBy := strconv.FormatInt(update.Message.From.ID, 10)

	parts := strings.Fields(update.Message.Text)
	var targetID int64
	if len(parts) > 1 {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			b.sendErrorMessage(ctx, chatID, "用法: /recover [user_id]")
			return
		}
		targetID = id
	}

	// 扫描可能持续数十分钟，放到独立协程并在完成后回报结果
	b.sendMessage(ctx, chatID, "🔄 恢复扫描已启动，完成后会在此汇报结果")

	go func() {
		runCtx := context.Background()

		var err error
		var op *recoveryModels.RecoveryOperation
		if targetID != 0 {
			op, err = b.recovery.RecoverUser(runCtx, targetID, triggeredBy)
		} else {
			op, err = b.recovery.RunManualSweep(runCtx, triggeredBy)
		}

		reportCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err != nil {
			logger.L().Errorf("Manual recovery failed: %v", err)
			b.sendErrorMessage(reportCtx, chatID, fmt.Sprintf("恢复失败: %v", err))
			return
		}
		b.sendSuccessMessage(reportCtx, chatID, formatOperation(op))
	}()
}

// handleRecoveryStatus 处理 /recovery_status 命令
func (b *Bot) handleRecoveryStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	op, err := b.recovery.LastOperation(ctx)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "查询恢复状态失败")
		return
	}
	if op == nil {
		b.sendMessage(ctx, chatID, "📝 尚未执行过恢复操作")
		return
	}

	cursors, err := b.recovery.ListCursors(ctx)
	if err != nil {
		logger.L().Warnf("Failed to list cursors for status report: %v", err)
	}

	var text strings.Builder
	text.WriteString("📊 恢复状态\n\n")
	text.WriteString(formatOperation(op))
	text.WriteString(fmt.Sprintf("\n\n跟踪中的用户游标: %d", len(cursors)))
	text.WriteString(fmt.Sprintf("\n静默中的用户: %d", b.gate.ActiveCount()))

	b.sendMessage(ctx, chatID, text.String())
}

// handleSilenceOn 处理 /silence_on <user_id> [reason] 命令
func (b *Bot) handleSilenceOn(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	b.handleSilenceToggle(ctx, update, true)
}

// handleSilenceOff 处理 /silence_off <user_id> [reason] 命令
func (b *Bot) handleSilenceOff(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	b.handleSilenceToggle(ctx, update, false)
}

func (b *Bot) handleSilenceToggle(ctx context.Context, update *botModels.Update, activate bool) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	command := "/silence_off"
	if activate {
		command = "/silence_on"
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID, fmt.Sprintf("用法: %s <user_id> [原因]", command))
		return
	}

	targetID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "无效的用户 ID")
		return
	}

	reason := strings.Join(parts[2:], " ")
	by := strconv.FormatInt(update.Message.From.ID, 10)

	var changed bool
	if activate {
		changed, err = b.gate.Activate(ctx, targetID, by, reason)
	} else {
		changed, err = b.gate.Deactivate(ctx, targetID, by, reason)
	}
	if err != nil {
		b.sendErrorMessage(ctx, chatID, err.Error())
		return
	}

	state := "解除静默"
	if activate {
		state = "静默"
	}
	if !changed {
		b.sendInfoMessage(ctx, chatID, fmt.Sprintf("用户 %d 已处于%s状态", targetID, state))
		return
	}
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已%s用户 %d", state, targetID))
}

// handleSilenceStatus 处理 /silence_status [user_id] 命令
func (b *Bot) handleSilenceStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendMessage(ctx, chatID, fmt.Sprintf("🔇 当前静默中的用户数: %d\n查看单个用户: /silence_status <user_id>", b.gate.ActiveCount()))
		return
	}

	targetID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "无效的用户 ID")
		return
	}

	status, err := b.gate.Status(ctx, targetID)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "查询协议状态失败")
		return
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("用户 %d\n状态: %s\n", targetID, status.Status))
	text.WriteString(fmt.Sprintf("已拦截消息: %d\n", status.MessagesQuarantinedCount))
	text.WriteString(fmt.Sprintf("预估节省成本: $%.2f", status.EstimatedCostSaved))
	if status.ActivatedAt != nil {
		text.WriteString(fmt.Sprintf("\n激活时间: %s", status.ActivatedAt.Format(time.RFC3339)))
	}

	b.sendMessage(ctx, chatID, text.String())
}

// handleQuarantineList 处理 /quarantine 命令（列出最近的隔离消息）
func (b *Bot) handleQuarantineList(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	messages, err := b.gate.ListQueue(ctx, 10)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "查询隔离队列失败")
		return
	}

	if len(messages) == 0 {
		b.sendMessage(ctx, chatID, "📝 隔离队列为空")
		return
	}

	var text strings.Builder
	text.WriteString("🗃 最近的隔离消息:\n\n")
	for i, msg := range messages {
		preview := msg.Text
		if len(preview) > 60 {
			preview = preview[:60] + "…"
		}
		text.WriteString(fmt.Sprintf("%d. 用户 %d (消息 %d, %s)\n%s\n\n",
			i+1, msg.UserID, msg.MessageID, msg.ReceivedAt.Format("01-02 15:04"), preview))
	}
	text.WriteString("释放消息: /release <message_id>")

	b.sendMessage(ctx, chatID, text.String())
}

// handleRelease 处理 /release <message_id> 命令
func (b *Bot) handleRelease(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID, "用法: /release <message_id>")
		return
	}

	messageID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "无效的消息 ID")
		return
	}

	msg, err := b.gate.Release(ctx, messageID, strconv.FormatInt(update.Message.From.ID, 10))
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			b.sendErrorMessage(ctx, chatID, "消息不存在或已释放")
			return
		}
		b.sendErrorMessage(ctx, chatID, "释放失败")
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已释放用户 %d 的消息 %d", msg.UserID, messageID))
}

// handleIngest 默认处理器：归档私聊消息并按静默协议分流
// 静默中的用户消息只入隔离队列，不进入对话管线
func (b *Bot) handleIngest(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.Chat.Type != "private" || msg.Text == "" {
		return
	}
	// 未注册的命令不进入对话管线
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	userID := msg.From.ID
	sentAt := time.Unix(int64(msg.Date), 0).UTC()

	archived := &models.ArchivedMessage{
		TelegramMessageID: int64(msg.ID),
		ChatID:            msg.Chat.ID,
		UserID:            userID,
		FromBot:           false,
		Text:              msg.Text,
		SentAt:            sentAt,
	}
	if err := b.archive.SaveMessage(ctx, archived); err != nil {
		// 归档失败不阻断实时回复，但会在下一轮恢复扫描中留下盲区
		logger.L().Errorf("Failed to archive message %d from user %d: %v", msg.ID, userID, err)
	}

	active, err := b.gate.IsActive(ctx, userID)
	if err != nil {
		logger.L().Errorf("Protocol gate check failed for user %d: %v", userID, err)
		return
	}
	if active {
		if _, err := b.gate.Enqueue(ctx, userID, int64(msg.ID), msg.Text, int64(msg.ID), ""); err != nil {
			logger.L().Errorf("Failed to quarantine message %d from user %d: %v", msg.ID, userID, err)
		}
		return
	}

	if _, err := b.consumer.Process(ctx, userID, msg.Text, nil); err != nil {
		logger.L().Errorf("Pipeline failed for user %d: %v", userID, err)
	}
}

// formatOperation 渲染操作记录摘要
func formatOperation(op *recoveryModels.RecoveryOperation) string {
	if op == nil {
		return "无操作记录"
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("操作 %s (%s)\n状态: %s\n", op.ID, op.OperationType, op.Status))
	text.WriteString(fmt.Sprintf("检查用户: %d, 恢复: %d, 跳过: %d, 错误: %d",
		op.UsersChecked, op.MessagesRecovered, op.MessagesSkipped, op.ErrorsEncountered))
	if op.CompletedAt != nil {
		text.WriteString(fmt.Sprintf("\n耗时: %s", op.CompletedAt.Sub(op.StartedAt).Round(time.Second)))
	}
	if op.ErrorDetails != "" {
		text.WriteString(fmt.Sprintf("\n错误详情: %s", op.ErrorDetails))
	}
	return text.String()
}
