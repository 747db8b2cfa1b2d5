package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recovery_bot/internal/app"
	"recovery_bot/internal/config"
	"recovery_bot/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	// 本地开发时从 .env 加载环境变量，不存在则忽略
	_ = godotenv.Load()

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("Failed to load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("Failed to initialize app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.L().Info("Shutdown signal received")
	}()

	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("Bot stopped with error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Close(shutdownCtx); err != nil {
		logger.L().Errorf("Failed to close app cleanly: %v", err)
	}

	logger.L().Info("Bye")
}
