// Package social 實現聊天與好友請求的轉發
package social

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/internal/storage"
	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
)

// saveTimeout 異步持久化的單次超時
const saveTimeout = 5 * time.Second

// Relay 社交轉發器
//
// 聊天走「先廣播、後持久化」：訊息即時送達同頻道同地圖的玩家，
// 寫入儲存在背景進行，失敗只記錄日誌——持久層故障不能擋住即時路徑。
// 好友請求按帳號（而非連線）定址，目標離線時以錯誤事件告知發起方。
type Relay struct {
	channels *game.ChannelManager
	sessions *game.SessionRegistry
	chats    storage.ChatStore
	friends  storage.FriendStore
	rules    validator.Rules
	sender   game.EventSender
	logger   *slog.Logger

	historyLimit int
	wg           sync.WaitGroup
}

// NewRelay 創建社交轉發器
func NewRelay(
	channels *game.ChannelManager,
	sessions *game.SessionRegistry,
	chats storage.ChatStore,
	friends storage.FriendStore,
	rules validator.Rules,
	historyLimit int,
	sender game.EventSender,
	logger *slog.Logger,
) *Relay {
	return &Relay{
		channels:     channels,
		sessions:     sessions,
		chats:        chats,
		friends:      friends,
		rules:        rules,
		sender:       sender,
		logger:       logger,
		historyLimit: historyLimit,
	}
}

// SendChat 廣播聊天訊息並在背景持久化
//
// 內容先經過淨化（去控制字元、截斷長度、攔截符號灌水），
// 淨化不通過的訊息被拒絕。廣播範圍：發送者所在頻道中同地圖的玩家，
// 包含發送者本人（作為送達回執）。
func (r *Relay) SendChat(connID, content string) error {
	session, ok := r.sessions.ByConn(connID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	state, channelID, ok := r.channels.Get(connID)
	if !ok {
		return apperrors.ErrNotInChannel
	}

	clean, v := r.rules.SanitizeChat(content)
	if !v.OK {
		r.logger.Warn("聊天內容被攔截",
			"conn_id", connID,
			"reason", v.Reason)
		return apperrors.New(apperrors.ErrCodeInvalidInput, "message rejected").WithDetails(v.Reason)
	}

	msg := storage.ChatMessage{
		AccountID:   session.AccountID,
		DisplayName: session.DisplayName,
		MapID:       state.MapID,
		ChannelID:   channelID,
		Content:     clean,
		SentAt:      time.Now(),
	}

	r.channels.BroadcastMapChannel(connID, game.EvChatMessage, msg)

	// 廣播之後才持久化；寫入失敗不影響已送達的訊息
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.chats.SaveChat(ctx, msg); err != nil {
			r.logger.Error("聊天訊息持久化失敗",
				"account_id", msg.AccountID,
				"map_id", msg.MapID,
				"error", err)
		}
	}()

	return nil
}

// LoadHistory 載入近期聊天歷史並送回請求者
//
// limit 夾取在 [1, historyLimit]；儲存查詢失敗返回空歷史而非錯誤，
// 客戶端仍能進入聊天介面。
func (r *Relay) LoadHistory(ctx context.Context, connID string, limit int) {
	state, channelID, ok := r.channels.Get(connID)
	if !ok {
		r.sender.Send(connID, game.EvChatHistory, map[string]any{"messages": []storage.ChatMessage{}})
		return
	}

	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}

	messages, err := r.chats.RecentChat(ctx, state.MapID, channelID, limit)
	if err != nil {
		r.logger.Error("聊天歷史查詢失敗",
			"map_id", state.MapID,
			"channel_id", channelID,
			"error", err)
		messages = nil
	}
	if messages == nil {
		messages = []storage.ChatMessage{}
	}

	r.sender.Send(connID, game.EvChatHistory, map[string]any{
		"mapId":     state.MapID,
		"channelId": channelID,
		"messages":  messages,
	})
}

// SendFriendRequest 轉發好友請求
//
// 目標以帳號 id 定址：在線時轉發請求事件並記錄 pending 關係；
// 離線時以 friend_request_error 告知發起方，不做離線投遞。
func (r *Relay) SendFriendRequest(fromConn, targetAccountID string) error {
	from, ok := r.sessions.ByConn(fromConn)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if from.AccountID == targetAccountID {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "無法加自己為好友")
	}

	target, online := r.sessions.ByAccount(targetAccountID)
	if !online {
		r.sender.Send(fromConn, game.EvFriendReqError, map[string]any{
			"targetAccountId": targetAccountID,
			"reason":          "offline",
		})
		return nil
	}

	r.persistFriendship(storage.Friendship{
		RequesterID: from.AccountID,
		AddresseeID: targetAccountID,
		Status:      storage.FriendPending,
	})

	r.sender.Send(target.ConnID, game.EvFriendRequest, map[string]any{
		"fromAccountId": from.AccountID,
		"fromName":      from.DisplayName,
	})
	return nil
}

// RespondFriendRequest 處理好友請求的回應
//
// 回應寫入是冪等的 upsert：重複回應只會覆寫同一條關係。
// 發起方在線時收到結果通知，離線則靜默。
func (r *Relay) RespondFriendRequest(responderConn, requesterAccountID string, accept bool) error {
	responder, ok := r.sessions.ByConn(responderConn)
	if !ok {
		return apperrors.ErrSessionNotFound
	}

	status := storage.FriendRejected
	if accept {
		status = storage.FriendAccepted
	}
	r.persistFriendship(storage.Friendship{
		RequesterID: requesterAccountID,
		AddresseeID: responder.AccountID,
		Status:      status,
	})

	if requester, online := r.sessions.ByAccount(requesterAccountID); online {
		r.sender.Send(requester.ConnID, game.EvFriendReqResult, map[string]any{
			"accountId": responder.AccountID,
			"name":      responder.DisplayName,
			"accepted":  accept,
		})
	}
	return nil
}

// persistFriendship 背景寫入好友關係，失敗只記錄日誌
func (r *Relay) persistFriendship(f storage.Friendship) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.friends.UpsertFriendship(ctx, f); err != nil {
			r.logger.Error("好友關係持久化失敗",
				"requester", f.RequesterID,
				"addressee", f.AddresseeID,
				"error", err)
		}
	}()
}

// Wait 等待所有背景持久化完成（優雅關閉用）
func (r *Relay) Wait() {
	r.wg.Wait()
}
