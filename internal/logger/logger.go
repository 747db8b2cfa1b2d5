package logger

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Init 初始化全局 logrus 日志器
// LOG_LEVEL 控制级别（默认 info），LOG_FORMAT=json 切换为 JSON 输出（容器部署用）
// 可重复调用，后一次调用覆盖前一次的配置
func Init() {
	log.SetOutput(os.Stdout)

	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	lvl, err := log.ParseLevel(levelStr)
	if err != nil {
		lvl = log.InfoLevel
		log.Warnf("Unknown LOG_LEVEL %q, falling back to info", levelStr)
	}
	log.SetLevel(lvl)
}

// L 返回全局日志器
func L() *log.Logger { return log.StandardLogger() }
