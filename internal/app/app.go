package app

import (
	"context"
	"fmt"
	"time"

	"recovery_bot/internal/config"
	"recovery_bot/internal/logger"
	"recovery_bot/internal/mongo"
	"recovery_bot/internal/pipeline"
	"recovery_bot/internal/postgres"
	"recovery_bot/internal/protocol"
	"recovery_bot/internal/recovery"
	recoveryRepo "recovery_bot/internal/recovery/repository"
	redisClient "recovery_bot/internal/redis"
	"recovery_bot/internal/telegram"
	telegramRepo "recovery_bot/internal/telegram/repository"

	"github.com/redis/go-redis/v9"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB  *mongo.Client
	Postgres *postgres.Client
	Redis    redis.UniversalClient

	Gate        *protocol.Gate
	Recovery    *recovery.Service
	TelegramBot *telegram.Bot

	limiter      *pipeline.RateLimiter
	startupSweep bool
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会关闭已建立的连接并返回错误
func New(cfg *config.Config) (*App, error) {
	app := &App{startupSweep: cfg.Recovery.StartupSweepEnabled}

	// 初始化 MongoDB（消息归档与交互记录）
	mongoDB, err := mongo.NewClient(mongo.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoDB
	logger.L().Info("MongoDB initialized successfully")

	// 初始化 PostgreSQL（游标、恢复操作、协议状态）
	pgPool, err := postgres.NewClient(postgres.Config{URL: cfg.PostgresURL})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init PostgreSQL failed: %w", err)
	}
	app.Postgres = pgPool
	logger.L().Info("PostgreSQL initialized successfully")

	// 初始化 Redis（协议缓存与隔离索引）
	rdb, err := redisClient.NewClient(redisClient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init Redis failed: %w", err)
	}
	app.Redis = rdb
	logger.L().Info("Redis initialized successfully")

	// repositories
	db := mongoDB.Database()
	archiveRepo := telegramRepo.NewMongoArchiveRepository(db)
	interactionRepo := telegramRepo.NewMongoInteractionRepository(db)
	cursorRepo := recoveryRepo.NewPostgresCursorRepository(pgPool.Pool)
	operationRepo := recoveryRepo.NewPostgresOperationRepository(pgPool.Pool)
	statusRepo := protocol.NewPostgresStatusRepository(pgPool.Pool)
	quarantineRepo := protocol.NewPostgresQuarantineRepository(pgPool.Pool)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSchema()
	if err := ensureSchemas(schemaCtx, cursorRepo, operationRepo, statusRepo, quarantineRepo); err != nil {
		app.Close(context.Background())
		return nil, err
	}

	// 隔离闸门，启动时预热 ACTIVE 用户缓存
	gate := protocol.NewGate(statusRepo, quarantineRepo, protocol.NewRedisCache(rdb))
	if err := gate.WarmCache(schemaCtx); err != nil {
		logger.L().Warnf("Protocol cache warm-up failed: %v", err)
	}
	app.Gate = gate

	// Telegram Bot
	bot, err := telegram.InitFromConfig(cfg, telegram.Deps{
		Archive:      archiveRepo,
		Interactions: interactionRepo,
		Gate:         gate,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}
	app.TelegramBot = bot

	// 对话管线（实时消息与恢复回放共用）
	llm, err := pipeline.NewLLMClient(pipeline.LLMConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init LLM client failed: %w", err)
	}
	limiter := pipeline.NewRateLimiter(cfg.Recovery.RateLimitPerSecond)
	app.limiter = limiter
	pipe := pipeline.NewService(bot.Client(), llm, interactionRepo, archiveRepo, limiter)

	// 恢复编排器
	classifier := recovery.NewClassifier(recovery.ClassifierConfig{
		Tier1Boundary: durationHours(cfg.Recovery.Tier1BoundaryHours),
		Tier3Boundary: durationHours(cfg.Recovery.Tier3BoundaryHours),
		MaxAge:        durationHours(cfg.Recovery.Tier2BoundaryHours),
	})
	scanner := recovery.NewDialogScanner(archiveRepo, 100, 500*time.Millisecond)
	detector := recovery.NewGapDetector(archiveRepo, classifier)
	app.Recovery = recovery.NewService(
		cursorRepo,
		operationRepo,
		scanner,
		detector,
		classifier,
		gate,
		pipe,
		limiter,
		recovery.ServiceConfig{
			GroupSize:        cfg.Recovery.GroupSize,
			MaxConcurrent:    cfg.Recovery.DetectConcurrency,
			MaxUsersPerSweep: cfg.Recovery.MaxUsersPerSweep,
			SweepTimeout:     cfg.Recovery.SweepTimeout,
			UserTimeout:      cfg.Recovery.PerUserTimeout,
		},
	)

	bot.Attach(pipe, app.Recovery)

	return app, nil
}

// Run 启动 Bot 并（可选）在后台执行启动全量恢复扫描
// 阻塞直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if a.startupSweep {
		go func() {
			op, err := a.Recovery.RunStartupSweep(ctx)
			if err != nil {
				logger.L().Errorf("Startup recovery sweep failed: %v", err)
				return
			}
			logger.L().Infof("Startup recovery sweep finished: operation=%s status=%s recovered=%d skipped=%d errors=%d",
				op.ID, op.Status, op.MessagesRecovered, op.MessagesSkipped, op.ErrorsEncountered)
		}()
	}

	return a.TelegramBot.Start(ctx)
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	if a.TelegramBot != nil {
		if err := a.TelegramBot.Stop(ctx); err != nil {
			logger.L().Warnf("Stop Telegram bot failed: %v", err)
		}
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.L().Warnf("Close Redis failed: %v", err)
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}

// schemaEnsurer 统一建表入口
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func ensureSchemas(ctx context.Context, ensurers ...schemaEnsurer) error {
	for _, e := range ensurers {
		if err := e.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema failed: %w", err)
		}
	}
	return nil
}

func durationHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
