package telegram

import (
	"context"
	"fmt"

	"recovery_bot/internal/config"
	"recovery_bot/internal/logger"
	"recovery_bot/internal/protocol"
	"recovery_bot/internal/recovery"
	recoveryModels "recovery_bot/internal/recovery/models"
	"recovery_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
)

// Config Telegram Bot 配置
type Config struct {
	Token    string  // Bot Token
	OwnerIDs []int64 // Owner 用户 IDs
	Debug    bool    // 是否开启调试模式
}

// Deps Bot 运行所需的外部依赖
type Deps struct {
	Archive      repository.ArchiveRepository
	Interactions repository.InteractionRepository
	Gate         *protocol.Gate
}

// Consumer 实时消息的下游处理接口（恢复管线与实时管线共用）
type Consumer interface {
	Process(ctx context.Context, userID int64, text string, overrides map[string]string) (*recovery.InteractionResult, error)
}

// RecoveryService 恢复编排能力（由 Bot 的命令触发）
type RecoveryService interface {
	RunManualSweep(ctx context.Context, triggeredBy string) (*recoveryModels.RecoveryOperation, error)
	RecoverUser(ctx context.Context, userID int64, triggeredBy string) (*recoveryModels.RecoveryOperation, error)
	LastOperation(ctx context.Context) (*recoveryModels.RecoveryOperation, error)
	ListCursors(ctx context.Context) ([]*recoveryModels.UserCursor, error)
}

// Bot Telegram Bot 服务
type Bot struct {
	bot      *bot.Bot
	ownerIDs map[int64]struct{}
	pool     *WorkerPool

	archive      repository.ArchiveRepository
	interactions repository.InteractionRepository
	gate         *protocol.Gate

	// Attach 之后才可用；Start 之前必须完成注入
	consumer Consumer
	recovery RecoveryService

	purge *purgeScheduler
}

// New 创建 Telegram Bot 实例
func New(cfg Config, deps Deps) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	if deps.Archive == nil || deps.Gate == nil {
		return nil, fmt.Errorf("archive repository and protocol gate are required")
	}

	owners := make(map[int64]struct{}, len(cfg.OwnerIDs))
	for _, id := range cfg.OwnerIDs {
		owners[id] = struct{}{}
	}

	telegramBot := &Bot{
		ownerIDs:     owners,
		pool:         NewWorkerPool(8, 256),
		archive:      deps.Archive,
		interactions: deps.Interactions,
		gate:         deps.Gate,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(telegramBot.asyncHandler(telegramBot.handleIngest)),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	telegramBot.bot = b
	telegramBot.purge = newPurgeScheduler(deps.Gate, 0)

	// 注册 handlers
	telegramBot.registerHandlers()

	// 初始化数据库索引
	if err := telegramBot.ensureIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, deps Deps) (*Bot, error) {
	telegramCfg := Config{
		Token:    cfg.TelegramToken,
		OwnerIDs: cfg.BotOwnerIDs,
		Debug:    false,
	}
	b, err := New(telegramCfg, deps)
	if err != nil {
		return nil, err
	}
	b.purge = newPurgeScheduler(deps.Gate, cfg.Recovery.PurgeInterval)
	return b, nil
}

// Client 返回底层 bot 客户端（供发送管线复用同一连接）
func (b *Bot) Client() *bot.Bot {
	return b.bot
}

// Attach 注入实时消息管线与恢复编排器
// 两者依赖底层 bot 客户端，必须在 New 之后、Start 之前完成
func (b *Bot) Attach(consumer Consumer, recoverySvc RecoveryService) {
	b.consumer = consumer
	b.recovery = recoverySvc
}

// Start 启动 Bot（阻塞式，应在 goroutine 中运行）
func (b *Bot) Start(ctx context.Context) error {
	if b.consumer == nil || b.recovery == nil {
		return fmt.Errorf("bot started before Attach")
	}
	b.purge.start()
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
	return nil
}

// Stop 停止 Bot 及其后台组件
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")
	b.purge.stop()
	b.pool.Shutdown()
	return nil
}

// isOwner 判断用户是否为 Bot Owner
func (b *Bot) isOwner(userID int64) bool {
	_, ok := b.ownerIDs[userID]
	return ok
}

// ensureIndexes 确保所有数据库索引存在
func (b *Bot) ensureIndexes(ctx context.Context) error {
	if err := b.archive.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure archive indexes: %w", err)
	}
	logger.L().Debug("Archive indexes ensured")

	if b.interactions != nil {
		if err := b.interactions.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to ensure interaction indexes: %w", err)
		}
		logger.L().Debug("Interaction indexes ensured")
	}

	return nil
}
