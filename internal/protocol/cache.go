package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusCachePrefix  = "protocol_cache:" // protocol_cache:<user_id> -> "ACTIVE"/"INACTIVE"
	statusCacheTTL     = 300 * time.Second
	updatesChannel     = "protocol_updates"  // 状态变更广播频道
	quarantineIndexKey = "quarantine:recent" // ZSET：member=隔离消息 ID，score=接收时间
	quarantinePayload  = "quarantine:msg:"   // quarantine:msg:<id> -> JSON 负载
)

// Cache 协议状态缓存与隔离快速索引
// 任何方法出错时调用方都必须降级到持久化存储，绝不因缓存不可用阻塞消息流
type Cache interface {
	// GetStatus 读缓存，miss 时 ok=false
	GetStatus(ctx context.Context, userID int64) (status Status, ok bool, err error)

	// SetStatus 写缓存（TTL 300s）
	SetStatus(ctx context.Context, userID int64, status Status) error

	// PublishUpdate 发布状态变更事件供在线面板订阅
	PublishUpdate(ctx context.Context, event UpdateEvent) error

	// IndexAdd 把隔离消息加入按时间排序的快速索引
	IndexAdd(ctx context.Context, msg *QuarantineMessage) error

	// IndexRemove 从快速索引移除
	IndexRemove(ctx context.Context, id string) error

	// IndexRecent 读取最近 limit 条隔离消息（新的在前）
	IndexRecent(ctx context.Context, limit int) ([]*QuarantineMessage, error)
}

// RedisCache Cache 的 go-redis 实现
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache 创建 redis 缓存
func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func statusKey(userID int64) string {
	return statusCachePrefix + strconv.FormatInt(userID, 10)
}

// GetStatus 读缓存
func (c *RedisCache) GetStatus(ctx context.Context, userID int64) (Status, bool, error) {
	val, err := c.rdb.Get(ctx, statusKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read status cache: %w", err)
	}

	status := Status(val)
	if !status.Valid() {
		// 脏值当作 miss 处理，由调用方回源覆盖
		return "", false, nil
	}
	return status, true, nil
}

// SetStatus 写缓存
func (c *RedisCache) SetStatus(ctx context.Context, userID int64, status Status) error {
	if err := c.rdb.Set(ctx, statusKey(userID), string(status), statusCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to write status cache: %w", err)
	}
	return nil
}

// PublishUpdate 发布状态变更事件
func (c *RedisCache) PublishUpdate(ctx context.Context, event UpdateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal protocol update: %w", err)
	}
	if err := c.rdb.Publish(ctx, updatesChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish protocol update: %w", err)
	}
	return nil
}

// IndexAdd 写入快速索引：ZSET 记录顺序，payload 键保存完整消息
func (c *RedisCache) IndexAdd(ctx context.Context, msg *QuarantineMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine message: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, quarantineIndexKey, redis.Z{
		Score:  float64(msg.ReceivedAt.UnixMilli()),
		Member: msg.ID,
	})
	pipe.Set(ctx, quarantinePayload+msg.ID, payload, QuarantineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index quarantine message: %w", err)
	}
	return nil
}

// IndexRemove 从快速索引移除
func (c *RedisCache) IndexRemove(ctx context.Context, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZRem(ctx, quarantineIndexKey, id)
	pipe.Del(ctx, quarantinePayload+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove quarantine index entry: %w", err)
	}
	return nil
}

// IndexRecent 读取最近的隔离消息
// payload 键可能先于 ZSET 条目过期，缺失的条目跳过；全部缺失时返回空，
// 由 Gate 落回数据库扫描
func (c *RedisCache) IndexRecent(ctx context.Context, limit int) ([]*QuarantineMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := c.rdb.ZRevRange(ctx, quarantineIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = quarantinePayload + id
	}
	payloads, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine payloads: %w", err)
	}

	messages := make([]*QuarantineMessage, 0, len(payloads))
	for _, raw := range payloads {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var msg QuarantineMessage
		if err := json.Unmarshal([]byte(str), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
