package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/recovery"
	"recovery_bot/internal/telegram/models"
	"recovery_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
)

// replier 回复发送抽象（生产实现为 *bot.Bot，测试用桩替换）
type replier interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error)
}

// botMessage 发送结果里用到的字段
type botMessage struct {
	ID int
}

// botReplier *bot.Bot 的 Replier 适配
type botReplier struct {
	bot *bot.Bot
}

func (r *botReplier) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error) {
	msg, err := r.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, err
	}
	return &botMessage{ID: msg.ID}, nil
}

// Service 下游对话管线
// 把一条用户消息变成回复并持久化交互记录；实时消息与恢复回放走同一条路径
type Service struct {
	replier      replier
	llm          *LLMClient
	interactions repository.InteractionRepository
	archive      repository.ArchiveRepository
	limiter      *RateLimiter
}

// NewService 创建对话管线
func NewService(
	b *bot.Bot,
	llm *LLMClient,
	interactions repository.InteractionRepository,
	archive repository.ArchiveRepository,
	limiter *RateLimiter,
) *Service {
	return &Service{
		replier:      &botReplier{bot: b},
		llm:          llm,
		interactions: interactions,
		archive:      archive,
		limiter:      limiter,
	}
}

// Process 处理一条用户消息：生成回复、限速发送、落交互记录
// overrides 携带恢复元数据；发送错误会被翻译成恢复流程的错误分类，
// 让回放层拿到 flood wait 时长等信息
func (s *Service) Process(ctx context.Context, userID int64, enrichedText string, overrides map[string]string) (*recovery.InteractionResult, error) {
	started := time.Now()

	response, err := s.llm.Reply(ctx, enrichedText)
	if err != nil {
		return nil, fmt.Errorf("reply generation failed: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sent, err := s.replier.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   response,
	})
	if err != nil {
		return nil, recovery.ClassifyError(fmt.Errorf("send reply failed: %w", err))
	}

	interaction := &models.Interaction{
		UserID:             userID,
		UserMessage:        enrichedText,
		BotResponse:        response,
		ResponseTimeMillis: time.Since(started).Milliseconds(),
	}
	applyOverrides(interaction, overrides)

	if err := s.interactions.SaveInteraction(ctx, interaction); err != nil {
		// 回复已经发出，持久化失败只记日志并上抛给调用方计数
		logger.L().Errorf("Interaction persist failed for user %d: %v", userID, err)
		return nil, err
	}

	// Bot 自己的回复也落档，保持会话归档完整
	if s.archive != nil {
		archiveErr := s.archive.SaveMessage(ctx, &models.ArchivedMessage{
			TelegramMessageID: int64(sent.ID),
			ChatID:            userID,
			FromBot:           true,
			Text:              response,
			SentAt:            time.Now().UTC(),
		})
		if archiveErr != nil {
			logger.L().Warnf("Outbound archive failed for user %d: %v", userID, archiveErr)
		}
	}

	return &recovery.InteractionResult{
		Response:     response,
		ResponseTime: time.Since(started),
	}, nil
}

// applyOverrides 把恢复元数据写进交互记录
func applyOverrides(interaction *models.Interaction, overrides map[string]string) {
	if len(overrides) == 0 {
		return
	}

	if v, ok := overrides["platform_message_id"]; ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			interaction.PlatformMessageID = id
		}
	}
	if v, ok := overrides["platform_timestamp"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			interaction.PlatformTimestamp = &ts
		}
	}
	if overrides["is_recovered"] == "true" {
		interaction.IsRecovered = true
	}
}
