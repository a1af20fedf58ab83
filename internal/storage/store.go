package storage

import (
	"context"
	"errors"
	"time"
)

// 聊天與好友關係的持久層介面。
//
// 即時路徑不依賴儲存：訊息先廣播、後寫入，寫入失敗只記錄日誌。
// 介面後面有三種實現：PostgreSQL（權威）、Redis 快取（近期歷史）、
// 記憶體（開發與測試）。

var (
	// ErrNotFound 查無紀錄
	ErrNotFound = errors.New("storage: not found")
	// ErrUnavailable 儲存後端不可用
	ErrUnavailable = errors.New("storage: unavailable")
)

// 好友關係狀態
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
	FriendRejected = "rejected"
)

// ChatMessage 一則聊天訊息
type ChatMessage struct {
	ID          int64     `json:"id,omitempty"`
	AccountID   string    `json:"accountId"`
	DisplayName string    `json:"displayName"`
	MapID       string    `json:"mapId"`
	ChannelID   int       `json:"channelId"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
}

// Friendship 一條好友關係（requester 發起，addressee 回應）
type Friendship struct {
	RequesterID string    `json:"requesterId"`
	AddresseeID string    `json:"addresseeId"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatStore 聊天訊息儲存
type ChatStore interface {
	// SaveChat 追加一則訊息
	SaveChat(ctx context.Context, msg ChatMessage) error
	// RecentChat 返回指定地圖+頻道最近的訊息（由舊到新，至多 limit 則）
	RecentChat(ctx context.Context, mapID string, channelID, limit int) ([]ChatMessage, error)
}

// FriendStore 好友關係儲存
type FriendStore interface {
	// UpsertFriendship 寫入或更新一條好友關係；重複回應是冪等的
	UpsertFriendship(ctx context.Context, f Friendship) error
	// Friendships 返回帳號的所有好友關係
	Friendships(ctx context.Context, accountID string) ([]Friendship, error)
}

// Store 完整的持久層
type Store interface {
	ChatStore
	FriendStore
	// Close 釋放底層連線
	Close()
}
