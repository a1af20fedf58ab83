package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedChatStore 帶 Redis 快取的聊天儲存（cache-aside）
//
// 近期歷史保存在 Redis list（LPUSH + LTRIM 截斷到固定長度），
// 讀取時命中快取就不打資料庫。Redis 故障視為快取未命中，
// 靜默降級到後端儲存——快取永遠不是正確性的依賴。
type CachedChatStore struct {
	backend ChatStore
	client  *redis.Client
	maxLen  int64
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedChatStore 包裝後端聊天儲存
func NewCachedChatStore(backend ChatStore, client *redis.Client, maxLen int, logger *slog.Logger) *CachedChatStore {
	return &CachedChatStore{
		backend: backend,
		client:  client,
		maxLen:  int64(maxLen),
		ttl:     24 * time.Hour,
		logger:  logger,
	}
}

// chatKey 快取鍵：map + channel 一條 list
func chatKey(mapID string, channelID int) string {
	return fmt.Sprintf("chat:%s:%d", mapID, channelID)
}

// SaveChat 寫入後端並把訊息推進快取 list
func (c *CachedChatStore) SaveChat(ctx context.Context, msg ChatMessage) error {
	if err := c.backend.SaveChat(ctx, msg); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil
	}

	key := chatKey(msg.MapID, msg.ChannelID)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, c.maxLen-1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// 快取寫入失敗不影響主流程
		c.logger.Warn("聊天快取寫入失敗", "key", key, "error", err)
	}
	return nil
}

// RecentChat 先讀快取，未命中回源並回填
func (c *CachedChatStore) RecentChat(ctx context.Context, mapID string, channelID, limit int) ([]ChatMessage, error) {
	key := chatKey(mapID, channelID)

	raw, err := c.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err == nil && len(raw) > 0 {
		// list 是新到舊，翻轉為時間正序
		messages := make([]ChatMessage, 0, len(raw))
		for i := len(raw) - 1; i >= 0; i-- {
			var m ChatMessage
			if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
				c.logger.Warn("聊天快取解碼失敗，回源", "key", key, "error", err)
				return c.refill(ctx, key, mapID, channelID, limit)
			}
			messages = append(messages, m)
		}
		return messages, nil
	}
	if err != nil && err != redis.Nil {
		c.logger.Warn("聊天快取讀取失敗，回源", "key", key, "error", err)
	}

	return c.refill(ctx, key, mapID, channelID, limit)
}

// refill 回源查詢並回填快取
func (c *CachedChatStore) refill(ctx context.Context, key, mapID string, channelID, limit int) ([]ChatMessage, error) {
	messages, err := c.backend.RecentChat(ctx, mapID, channelID, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	// LPUSH 按時間正序推入，list 頭部是最新訊息
	for _, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			continue
		}
		pipe.LPush(ctx, key, payload)
	}
	pipe.LTrim(ctx, key, 0, c.maxLen-1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("聊天快取回填失敗", "key", key, "error", err)
	}

	return messages, nil
}

// NewRedisClient 創建 Redis 客戶端並驗證連通性
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 連線測試失敗: %w", err)
	}
	return client, nil
}
