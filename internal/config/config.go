package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	TelegramToken string  // Telegram Bot API Token
	BotOwnerIDs   []int64 // Bot管理员ID列表

	MongoURI    string // MongoDB连接URI（消息归档与交互记录）
	MongoDBName string // MongoDB数据库名称

	PostgresURL string // PostgreSQL连接串（游标、恢复操作、协议状态）

	RedisAddr     string // Redis地址（协议缓存与隔离索引）
	RedisPassword string
	RedisDB       int

	LLM      LLMConfig
	Recovery RecoveryConfig
}

// LLMConfig 对话生成配置
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RecoveryConfig 消息恢复调度配置
type RecoveryConfig struct {
	StartupSweepEnabled bool          // 启动时是否执行全量扫描
	Tier1BoundaryHours  float64       // 紧急档年龄上限（小时）
	Tier2BoundaryHours  float64       // 可恢复档年龄上限，超过即跳过（小时）
	Tier3BoundaryHours  float64       // 可选的第三档分界，0 表示禁用
	GroupSize           int           // 每组并发检测的用户数
	DetectConcurrency   int           // 组内并发上限
	MaxUsersPerSweep    int           // 单次扫描处理的用户数上限
	RateLimitPerSecond  int           // 全局发送速率（条/秒）
	SweepTimeout        time.Duration // 整轮扫描超时
	PerUserTimeout      time.Duration // 单用户恢复超时
	PurgeInterval       time.Duration // 隔离消息过期清理周期
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "recovery_bot"
	}

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDBName:   mongoDBName,
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	if dbStr := strings.TrimSpace(os.Getenv("REDIS_DB")); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	llmCfg, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}
	cfg.LLM = llmCfg

	recoveryCfg, err := loadRecoveryConfig()
	if err != nil {
		return nil, err
	}
	cfg.Recovery = recoveryCfg

	return cfg, nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func loadLLMConfig() (LLMConfig, error) {
	cfg := LLMConfig{
		APIKey:  strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		Model:   strings.TrimSpace(os.Getenv("LLM_MODEL")),
	}

	if timeoutStr := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SECONDS")); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return LLMConfig{}, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS: %s", timeoutStr)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	} else {
		cfg.Timeout = 30 * time.Second
	}

	return cfg, nil
}

func loadRecoveryConfig() (RecoveryConfig, error) {
	cfg := RecoveryConfig{
		StartupSweepEnabled: true,
		Tier1BoundaryHours:  2,
		Tier2BoundaryHours:  12,
		GroupSize:           10,
		DetectConcurrency:   5,
		MaxUsersPerSweep:    50,
		RateLimitPerSecond:  30,
		SweepTimeout:        30 * time.Minute,
		PerUserTimeout:      10 * time.Minute,
		PurgeInterval:       time.Hour,
	}

	if enabled := strings.TrimSpace(os.Getenv("RECOVERY_STARTUP_SWEEP")); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return RecoveryConfig{}, fmt.Errorf("failed to parse RECOVERY_STARTUP_SWEEP: %w", err)
		}
		cfg.StartupSweepEnabled = value
	}

	var err error
	if cfg.Tier1BoundaryHours, err = parseHours("RECOVERY_TIER1_BOUNDARY_HOURS", cfg.Tier1BoundaryHours); err != nil {
		return RecoveryConfig{}, err
	}
	if cfg.Tier2BoundaryHours, err = parseHours("RECOVERY_TIER2_BOUNDARY_HOURS", cfg.Tier2BoundaryHours); err != nil {
		return RecoveryConfig{}, err
	}
	if cfg.Tier3BoundaryHours, err = parseHours("RECOVERY_TIER3_BOUNDARY_HOURS", 0); err != nil {
		return RecoveryConfig{}, err
	}
	if cfg.Tier1BoundaryHours >= cfg.Tier2BoundaryHours {
		return RecoveryConfig{}, fmt.Errorf("RECOVERY_TIER1_BOUNDARY_HOURS must be less than RECOVERY_TIER2_BOUNDARY_HOURS")
	}

	if err = parsePositiveInt("RECOVERY_GROUP_SIZE", &cfg.GroupSize); err != nil {
		return RecoveryConfig{}, err
	}
	if err = parsePositiveInt("RECOVERY_DETECT_CONCURRENCY", &cfg.DetectConcurrency); err != nil {
		return RecoveryConfig{}, err
	}
	if err = parsePositiveInt("RECOVERY_MAX_USERS_PER_SWEEP", &cfg.MaxUsersPerSweep); err != nil {
		return RecoveryConfig{}, err
	}
	if err = parsePositiveInt("RECOVERY_RATE_LIMIT_PER_SECOND", &cfg.RateLimitPerSecond); err != nil {
		return RecoveryConfig{}, err
	}

	if err = parseMinutes("RECOVERY_SWEEP_TIMEOUT_MINUTES", &cfg.SweepTimeout); err != nil {
		return RecoveryConfig{}, err
	}
	if err = parseMinutes("RECOVERY_PER_USER_TIMEOUT_MINUTES", &cfg.PerUserTimeout); err != nil {
		return RecoveryConfig{}, err
	}
	if err = parseMinutes("QUARANTINE_PURGE_INTERVAL_MINUTES", &cfg.PurgeInterval); err != nil {
		return RecoveryConfig{}, err
	}

	return cfg, nil
}

func parseHours(name string, fallback float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return fallback, nil
	}
	hours, err := strconv.ParseFloat(s, 64)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, s)
	}
	return hours, nil
}

func parsePositiveInt(name string, dst *int) error {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return nil
	}
	value, err := strconv.Atoi(s)
	if err != nil || value <= 0 {
		return fmt.Errorf("invalid %s: %s", name, s)
	}
	*dst = value
	return nil
}

func parseMinutes(name string, dst *time.Duration) error {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return nil
	}
	minutes, err := strconv.Atoi(s)
	if err != nil || minutes <= 0 {
		return fmt.Errorf("invalid %s: %s", name, s)
	}
	*dst = time.Duration(minutes) * time.Minute
	return nil
}
