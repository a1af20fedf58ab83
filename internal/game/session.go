package game

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
)

// Session 帳號會話：一個帳號與一條連線的綁定
type Session struct {
	AccountID   string    `json:"account_id"`
	ConnID      string    `json:"connection_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenValidator 會話憑證校驗（由外部身份系統實現）
type TokenValidator interface {
	// ValidateToken 校驗帳號與憑證是否匹配
	ValidateToken(accountID, token string) error
}

// AcceptTokens 接受任何非空憑證的預設實現。
// 憑證簽發不在本系統內，正式部署時替換為查詢身份系統的實現。
type AcceptTokens struct{}

func (AcceptTokens) ValidateToken(accountID, token string) error {
	if token == "" {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "缺少會話憑證")
	}
	return nil
}

// SessionRegistry 會話註冊表
//
// 不變量：同一個 accountId 系統內至多存在一個會話。
// 註冊第二條連線時，舊連線會收到 session_replaced 通知並被強制關閉，
// 之後才記錄新會話——不依賴分散式鎖，代價是強制關閉完成前
// 兩條連線可能短暫共存。
type SessionRegistry struct {
	byAccount map[string]*Session
	byConn    map[string]*Session
	mu        sync.RWMutex
	sender    EventSender
	logger    *slog.Logger
}

// NewSessionRegistry 創建會話註冊表
func NewSessionRegistry(sender EventSender, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		byAccount: make(map[string]*Session),
		byConn:    make(map[string]*Session),
		sender:    sender,
		logger:    logger,
	}
}

// Register 註冊會話
//
// 若該帳號已綁定另一條連線：舊連線先收到替換通知並被強制關閉，
// 然後才記錄新會話。返回被替換的舊連線 id（無則為空字串）。
func (r *SessionRegistry) Register(accountID, connID, displayName string) string {
	r.mu.Lock()

	var replacedConn string
	if prev, ok := r.byAccount[accountID]; ok && prev.ConnID != connID {
		replacedConn = prev.ConnID
		delete(r.byConn, prev.ConnID)
	}

	session := &Session{
		AccountID:   accountID,
		ConnID:      connID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	r.byAccount[accountID] = session
	r.byConn[connID] = session

	r.mu.Unlock()

	if replacedConn != "" {
		r.logger.Info("會話被新連線取代",
			"account_id", accountID,
			"old_conn", replacedConn,
			"new_conn", connID)

		r.sender.Send(replacedConn, EvSessionReplaced, map[string]any{
			"success": false,
			"message": "帳號已在其他位置登入",
		})
		r.sender.CloseConn(replacedConn, "session replaced")
	}

	return replacedConn
}

// Unregister 移除連線的會話
//
// 只有當該連線仍是帳號的在籍連線時才移除——防止被取代的舊連線
// 在斷線清理時誤刪新連線的有效會話。返回被移除的會話（無則為 nil）。
func (r *SessionRegistry) Unregister(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byConn[connID]
	if !ok {
		return nil
	}

	delete(r.byConn, connID)

	// 帳號索引可能已指向更新的連線，僅在仍指向自己時清除
	if current, ok := r.byAccount[session.AccountID]; ok && current.ConnID == connID {
		delete(r.byAccount, session.AccountID)
	}

	return session
}

// ByConn 以連線 id 查詢會話
func (r *SessionRegistry) ByConn(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// ByAccount 以帳號 id 查詢會話
func (r *SessionRegistry) ByAccount(accountID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAccount[accountID]
	return s, ok
}

// Count 返回在籍會話數量
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAccount)
}
