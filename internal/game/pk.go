package game

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

// PK 決鬥生命週期：
//
//	邀請(帶 TTL) ──接受──► 決鬥中(對稱對手集合) ──死亡/棄權/離開──► 結束
//	     │
//	     └──拒絕 / 逾時──► 取消
//
// 對手關係是對稱的：A 在 B 的集合中 ⇔ B 在 A 的集合中，
// 所有成對變更都在管理器的鎖內完成。一個玩家可以同時有多場決鬥。
// 中途離開（換圖或斷線）由伺服器裁定為離開方落敗，不信任客戶端申報。

// pkRequest 待決的決鬥邀請
type pkRequest struct {
	ID        string
	FromConn  string
	FromName  string
	ToConn    string
	CreatedAt time.Time
}

// PKManager 決鬥管理器
type PKManager struct {
	pending   map[string]*pkRequest          // requestID -> 待決邀請
	opponents map[string]map[string]struct{} // connID -> 對手集合
	mu        sync.Mutex

	sender EventSender
	wheel  *timewheel.Wheel
	ttl    time.Duration
	logger *slog.Logger
}

// NewPKManager 創建決鬥管理器
func NewPKManager(ttl time.Duration, sender EventSender, wheel *timewheel.Wheel, logger *slog.Logger) *PKManager {
	return &PKManager{
		pending:   make(map[string]*pkRequest),
		opponents: make(map[string]map[string]struct{}),
		sender:    sender,
		wheel:     wheel,
		ttl:       ttl,
		logger:    logger,
	}
}

// SendRequest 發起決鬥邀請
//
// 邀請只送達目標連線本身。逾時未回應的邀請由時間輪任務清除，
// 並通知發起方邀請已過期。返回邀請 id。
func (pk *PKManager) SendRequest(fromConn, fromName, toConn string) string {
	req := &pkRequest{
		ID:        uuid.NewString(),
		FromConn:  fromConn,
		FromName:  fromName,
		ToConn:    toConn,
		CreatedAt: time.Now(),
	}

	pk.mu.Lock()
	pk.pending[req.ID] = req
	pk.mu.Unlock()

	pk.sender.Send(toConn, EvPKRequest, map[string]any{
		"requestId":  req.ID,
		"fromConnId": fromConn,
		"fromName":   fromName,
	})

	requestID := req.ID
	pk.wheel.Schedule("pk/"+requestID, pk.ttl, func() {
		pk.expire(requestID)
	})

	pk.logger.Debug("決鬥邀請已發出",
		"request_id", req.ID,
		"from", fromConn,
		"to", toConn)

	return req.ID
}

// Respond 回應決鬥邀請
//
// 只有被邀請方可以回應；其他連線的回應視為身份不符。
// 接受 → 建立對稱的對手關係並通知雙方；拒絕 → 只通知發起方。
// 未知或已過期的邀請返回 ErrPKRequestNotFound。
func (pk *PKManager) Respond(requestID, responderConn string, accept bool) error {
	pk.mu.Lock()

	req, ok := pk.pending[requestID]
	if !ok {
		pk.mu.Unlock()
		return apperrors.ErrPKRequestNotFound
	}
	if req.ToConn != responderConn {
		pk.mu.Unlock()
		return apperrors.ErrIdentityMismatch
	}

	delete(pk.pending, requestID)

	if accept {
		pk.link(req.FromConn, req.ToConn)
	}
	from, to := req.FromConn, req.ToConn

	pk.mu.Unlock()

	pk.wheel.Cancel("pk/" + requestID)

	if accept {
		pk.sender.Send(from, EvPKResponse, map[string]any{
			"requestId": requestID,
			"accepted":  true,
			"opponent":  to,
		})
		pk.sender.Send(to, EvPKResponse, map[string]any{
			"requestId": requestID,
			"accepted":  true,
			"opponent":  from,
		})
		pk.logger.Info("決鬥開始", "request_id", requestID, "a", from, "b", to)
	} else {
		pk.sender.Send(from, EvPKResponse, map[string]any{
			"requestId": requestID,
			"accepted":  false,
			"reason":    "declined",
		})
	}

	return nil
}

// expire 邀請逾時：清除並通知發起方
func (pk *PKManager) expire(requestID string) {
	pk.mu.Lock()
	req, ok := pk.pending[requestID]
	if ok {
		delete(pk.pending, requestID)
	}
	pk.mu.Unlock()

	if !ok {
		return
	}

	pk.sender.Send(req.FromConn, EvPKResponse, map[string]any{
		"requestId": requestID,
		"accepted":  false,
		"reason":    "timeout",
	})
}

// End 結束一場決鬥並宣告勝負（雙方都會收到通知）
//
// 決鬥不存在時是 no-op——重複的結束申報（雙方同時上報、
// 死亡裁定與客戶端訊息競爭）不應造成二次通知。
func (pk *PKManager) End(winnerConn, loserConn, reason string) {
	pk.mu.Lock()
	ended := pk.unlink(winnerConn, loserConn)
	pk.mu.Unlock()

	if !ended {
		return
	}

	result := map[string]any{
		"winner": winnerConn,
		"loser":  loserConn,
		"reason": reason,
	}
	pk.sender.Send(winnerConn, EvPKEnded, result)
	pk.sender.Send(loserConn, EvPKEnded, result)

	pk.logger.Info("決鬥結束",
		"winner", winnerConn,
		"loser", loserConn,
		"reason", reason)
}

// Forfeit 主動棄權：棄權方在所有進行中的決鬥中落敗
func (pk *PKManager) Forfeit(connID string) {
	pk.forfeitAll(connID, "forfeit")
}

// HandleDeath 玩家死亡：死者在所有進行中的決鬥中落敗
func (pk *PKManager) HandleDeath(deadConn string) {
	pk.forfeitAll(deadConn, "death")
}

// HandleMapChange 玩家換圖：視同棄權，由伺服器裁定而非客戶端申報
func (pk *PKManager) HandleMapChange(connID string) {
	pk.forfeitAll(connID, "left_map")
}

// HandleDisconnect 玩家斷線：所有決鬥判負，清除涉及的待決邀請
func (pk *PKManager) HandleDisconnect(connID string) {
	pk.mu.Lock()
	var stale []string
	for id, req := range pk.pending {
		if req.FromConn == connID || req.ToConn == connID {
			delete(pk.pending, id)
			stale = append(stale, id)
		}
	}
	pk.mu.Unlock()

	for _, id := range stale {
		pk.wheel.Cancel("pk/" + id)
	}

	pk.forfeitAll(connID, "disconnect")
}

// forfeitAll 離開方在所有決鬥中落敗，逐場通知對手
func (pk *PKManager) forfeitAll(loserConn, reason string) {
	pk.mu.Lock()
	set := pk.opponents[loserConn]
	winners := make([]string, 0, len(set))
	for opp := range set {
		winners = append(winners, opp)
	}
	for _, opp := range winners {
		pk.unlink(opp, loserConn)
	}
	pk.mu.Unlock()

	for _, winner := range winners {
		result := map[string]any{
			"winner": winner,
			"loser":  loserConn,
			"reason": reason,
		}
		pk.sender.Send(winner, EvPKEnded, result)
		pk.sender.Send(loserConn, EvPKEnded, result)
	}

	if len(winners) > 0 {
		pk.logger.Info("決鬥判負",
			"loser", loserConn,
			"duels", len(winners),
			"reason", reason)
	}
}

// Opponents 返回連線目前的對手清單
func (pk *PKManager) Opponents(connID string) []string {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	set := pk.opponents[connID]
	out := make([]string, 0, len(set))
	for opp := range set {
		out = append(out, opp)
	}
	return out
}

// InDuel 返回兩條連線是否正在決鬥
func (pk *PKManager) InDuel(a, b string) bool {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	set, ok := pk.opponents[a]
	if !ok {
		return false
	}
	_, ok = set[b]
	return ok
}

// Stats 返回決鬥統計（監控用）
func (pk *PKManager) Stats() map[string]any {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	pairs := 0
	for _, set := range pk.opponents {
		pairs += len(set)
	}
	return map[string]any{
		"active_duels":     pairs / 2,
		"pending_requests": len(pk.pending),
	}
}

// link 建立對稱對手關係（呼叫方持鎖）
func (pk *PKManager) link(a, b string) {
	if pk.opponents[a] == nil {
		pk.opponents[a] = make(map[string]struct{})
	}
	if pk.opponents[b] == nil {
		pk.opponents[b] = make(map[string]struct{})
	}
	pk.opponents[a][b] = struct{}{}
	pk.opponents[b][a] = struct{}{}
}

// unlink 移除對稱對手關係，返回關係是否存在（呼叫方持鎖）
func (pk *PKManager) unlink(a, b string) bool {
	set, ok := pk.opponents[a]
	if !ok {
		return false
	}
	if _, ok := set[b]; !ok {
		return false
	}

	delete(set, b)
	if len(set) == 0 {
		delete(pk.opponents, a)
	}
	if other, ok := pk.opponents[b]; ok {
		delete(other, a)
		if len(other) == 0 {
			delete(pk.opponents, b)
		}
	}
	return true
}
