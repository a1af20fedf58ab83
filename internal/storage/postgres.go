package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore PostgreSQL 持久層（權威儲存）
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore 以連線字串創建持久層並驗證連通性
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析資料庫配置失敗: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("建立連線池失敗: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("資料庫連線測試失敗: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// SaveChat 追加一則聊天訊息
func (s *PostgresStore) SaveChat(ctx context.Context, msg ChatMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (account_id, display_name, map_id, channel_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.AccountID, msg.DisplayName, msg.MapID, msg.ChannelID, msg.Content, msg.SentAt)
	if err != nil {
		return fmt.Errorf("寫入聊天訊息失敗: %w", err)
	}
	return nil
}

// RecentChat 返回指定地圖+頻道最近的訊息（由舊到新）
func (s *PostgresStore) RecentChat(ctx context.Context, mapID string, channelID, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, display_name, map_id, channel_id, content, sent_at
		FROM chat_messages
		WHERE map_id = $1 AND channel_id = $2
		ORDER BY id DESC
		LIMIT $3`,
		mapID, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("查詢聊天歷史失敗: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.AccountID, &m.DisplayName, &m.MapID, &m.ChannelID, &m.Content, &m.SentAt); err != nil {
			return nil, fmt.Errorf("讀取聊天訊息失敗: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍歷聊天歷史失敗: %w", err)
	}

	// 查詢按 id 倒序取最近 N 則，返回前翻轉為時間正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpsertFriendship 寫入或更新好友關係
//
// 以 (requester, addressee) 為唯一鍵；重複回應同一個邀請
// 只會更新狀態與時間戳，呼叫方不需要關心是否已存在。
func (s *PostgresStore) UpsertFriendship(ctx context.Context, f Friendship) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO friendships (requester_id, addressee_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (requester_id, addressee_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		f.RequesterID, f.AddresseeID, f.Status, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("更新好友關係失敗: %w", err)
	}
	return nil
}

// Friendships 返回帳號的所有好友關係（雙向）
func (s *PostgresStore) Friendships(ctx context.Context, accountID string) ([]Friendship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT requester_id, addressee_id, status, updated_at
		FROM friendships
		WHERE requester_id = $1 OR addressee_id = $1
		ORDER BY updated_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("查詢好友關係失敗: %w", err)
	}
	defer rows.Close()

	var friendships []Friendship
	for rows.Next() {
		var f Friendship
		if err := rows.Scan(&f.RequesterID, &f.AddresseeID, &f.Status, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("讀取好友關係失敗: %w", err)
		}
		friendships = append(friendships, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍歷好友關係失敗: %w", err)
	}
	if len(friendships) == 0 {
		return nil, nil
	}
	return friendships, nil
}

// Friendship 查詢單條好友關係
func (s *PostgresStore) Friendship(ctx context.Context, requesterID, addresseeID string) (Friendship, error) {
	var f Friendship
	err := s.pool.QueryRow(ctx, `
		SELECT requester_id, addressee_id, status, updated_at
		FROM friendships
		WHERE requester_id = $1 AND addressee_id = $2`,
		requesterID, addresseeID).Scan(&f.RequesterID, &f.AddresseeID, &f.Status, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Friendship{}, ErrNotFound
	}
	if err != nil {
		return Friendship{}, fmt.Errorf("查詢好友關係失敗: %w", err)
	}
	return f, nil
}

// Close 關閉連線池
func (s *PostgresStore) Close() {
	s.pool.Close()
}
