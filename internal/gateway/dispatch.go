package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/internal/limiter"
	"github.com/BuuCoder/TuTien2D-sub000/internal/social"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
)

// Dispatcher 入站事件分發器
//
// 把解碼後的事件路由到對應的遊戲組件。每條連線的訊息在其讀取
// goroutine 上串行處理，單一發送者的操作天然保序；限流與會話
// 檢查在路由前完成，組件只收到已通過閘道檢查的請求。
type Dispatcher struct {
	hub      *Hub
	sessions *game.SessionRegistry
	channels *game.ChannelManager
	monsters *game.MonsterSupervisor
	pk       *game.PKManager
	combat   *game.CombatCoordinator
	relay    *social.Relay
	limits   *limiter.ActionLimiter
	tokens   game.TokenValidator
	logger   *slog.Logger
}

// NewDispatcher 創建分發器
func NewDispatcher(
	hub *Hub,
	sessions *game.SessionRegistry,
	channels *game.ChannelManager,
	monsters *game.MonsterSupervisor,
	pk *game.PKManager,
	combat *game.CombatCoordinator,
	relay *social.Relay,
	limits *limiter.ActionLimiter,
	tokens game.TokenValidator,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		sessions: sessions,
		channels: channels,
		monsters: monsters,
		pk:       pk,
		combat:   combat,
		relay:    relay,
		limits:   limits,
		tokens:   tokens,
		logger:   logger,
	}
}

// 入站載荷

type validateSessionReq struct {
	AccountID    string `json:"accountId"`
	SessionToken string `json:"sessionToken"`
	DisplayName  string `json:"displayName"`
}

type joinChannelReq struct {
	ChannelID int     `json:"channelId"`
	MapID     string  `json:"mapId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	HP        int     `json:"hp"`
	MaxHP     int     `json:"maxHp"`
}

type requestMonstersReq struct {
	MapID string `json:"mapId"`
}

type attackMonsterReq struct {
	MonsterID string `json:"monsterId"`
	Damage    int    `json:"damage"`
	Level     int    `json:"level"`
}

type pickupGoldReq struct {
	MonsterID string `json:"monsterId"`
}

type monsterAttackReq struct {
	MonsterID string `json:"monsterId"`
	TargetID  string `json:"targetId"`
}

type sendPKReq struct {
	TargetID string `json:"targetId"`
}

type pkResponseReq struct {
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
}

type pkEndedReq struct {
	OpponentID string `json:"opponentId"`
	Won        bool   `json:"won"`
}

type useSkillReq struct {
	SkillID string  `json:"skillId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type takeDamageReq struct {
	AttackerID string `json:"attackerId"`
	TargetID   string `json:"targetId"`
	Damage     int    `json:"damage"`
	Level      int    `json:"level"`
}

type playerDeathReq struct {
	KillerID string `json:"killerId"`
}

type updateHPReq struct {
	HP    int `json:"hp"`
	MaxHP int `json:"maxHp"`
}

type sendChatReq struct {
	Message string `json:"message"`
}

type loadHistoryReq struct {
	Limit int `json:"limit"`
}

type friendRequestReq struct {
	TargetAccountID string `json:"targetAccountId"`
}

type friendRespondReq struct {
	RequesterAccountID string `json:"requesterAccountId"`
	Accepted           bool   `json:"accepted"`
}

// HandleMessage 解碼信封並路由
func (d *Dispatcher) HandleMessage(connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Warn("解析訊息失敗", "conn_id", connID, "error", err)
		d.sendError(connID, "", apperrors.New(apperrors.ErrCodeInvalidInput, "malformed message"))
		return
	}

	// 會話驗證之外的所有事件都需要已驗證的會話
	if env.Event != game.EvValidateSession {
		if _, ok := d.sessions.ByConn(connID); !ok {
			d.sendError(connID, env.Event, apperrors.ErrSessionNotFound)
			return
		}
	}

	// 滑動視窗限流（未配置規則的事件直接通過）
	if allowed, retryAfter := d.limits.Allow(connID, env.Event); !allowed {
		d.hub.Send(connID, game.EvError, map[string]any{
			"code":       apperrors.ErrCodeRateLimited,
			"event":      env.Event,
			"message":    "操作過於頻繁",
			"retryAfter": retryAfter.Seconds(),
		})
		return
	}

	var err error
	switch env.Event {
	case game.EvValidateSession:
		err = d.onValidateSession(connID, env.Data)
	case game.EvJoinChannel:
		err = d.onJoinChannel(connID, env.Data)
	case game.EvPlayerMove:
		err = d.onPlayerMove(connID, env.Data)
	case game.EvRequestMonsters:
		err = d.onRequestMonsters(connID, env.Data)
	case game.EvAttackMonster:
		err = d.onAttackMonster(connID, env.Data)
	case game.EvPickupGold:
		err = d.onPickupGold(connID, env.Data)
	case game.EvMonsterAttack:
		err = d.onMonsterAttack(connID, env.Data)
	case game.EvSendPKRequest:
		err = d.onSendPKRequest(connID, env.Data)
	case game.EvPKResponse:
		err = d.onPKResponse(connID, env.Data)
	case game.EvPKForfeit:
		d.pk.Forfeit(connID)
	case game.EvPKEnded:
		err = d.onPKEnded(connID, env.Data)
	case game.EvUseSkill:
		err = d.onUseSkill(connID, env.Data)
	case game.EvTakeDamage:
		err = d.onTakeDamage(connID, env.Data)
	case game.EvPlayerDeath:
		err = d.onPlayerDeath(connID, env.Data)
	case game.EvUpdateHP:
		err = d.onUpdateHP(connID, env.Data)
	case game.EvSendChat:
		err = d.onSendChat(connID, env.Data)
	case game.EvLoadChatHistory:
		err = d.onLoadChatHistory(connID, env.Data)
	case game.EvSendFriendReq:
		err = d.onSendFriendRequest(connID, env.Data)
	case game.EvFriendReqRespond:
		err = d.onFriendRespond(connID, env.Data)
	default:
		d.logger.Debug("未知事件", "conn_id", connID, "event", env.Event)
		return
	}

	if err != nil {
		d.sendError(connID, env.Event, err)
	}
}

// HandleDisconnect 斷線清理級聯
//
// 順序：決鬥判負（對手需要知道勝負）→ 怪物脫離仇恨 →
// 離開頻道（廣播 player_left）→ 移除會話 → 釋放限流狀態。
func (d *Dispatcher) HandleDisconnect(connID string) {
	d.pk.HandleDisconnect(connID)
	d.monsters.OnPlayerLeft(connID)
	d.channels.Leave(connID)
	d.sessions.Unregister(connID)
	d.limits.RemoveActor(connID)
}

func (d *Dispatcher) onValidateSession(connID string, data json.RawMessage) error {
	var req validateSessionReq
	if err := json.Unmarshal(data, &req); err != nil || req.AccountID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "缺少帳號 id")
	}
	if err := d.tokens.ValidateToken(req.AccountID, req.SessionToken); err != nil {
		d.logger.Warn("會話憑證校驗失敗",
			"conn_id", connID,
			"account_id", req.AccountID)
		return err
	}

	d.sessions.Register(req.AccountID, connID, req.DisplayName)

	d.hub.Send(connID, game.EvSessionValidated, map[string]any{
		"success":      true,
		"connectionId": connID,
		"accountId":    req.AccountID,
	})
	return nil
}

// onJoinChannel 加入頻道
//
// 請求的頻道已滿時從下一個頻道開始輪轉一圈，找到有空位的頻道
// 就落座；全部滿員才回 channel_full。
func (d *Dispatcher) onJoinChannel(connID string, data json.RawMessage) error {
	var req joinChannelReq
	if err := json.Unmarshal(data, &req); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}

	// 入口的會話檢查之後，會話仍可能被另一條連線的替換註冊移除，
	// 不能假設查詢必定命中
	session, ok := d.sessions.ByConn(connID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	initial := game.PlayerState{
		AccountID:   session.AccountID,
		DisplayName: session.DisplayName,
		MapID:       req.MapID,
		X:           req.X,
		Y:           req.Y,
		Direction:   req.Direction,
		HP:          req.HP,
		MaxHP:       req.MaxHP,
	}

	count := d.channels.ChannelCount()
	if req.ChannelID < 1 || req.ChannelID > count {
		return apperrors.ErrUnknownChannel
	}

	for attempt := 0; attempt < count; attempt++ {
		channelID := (req.ChannelID-1+attempt)%count + 1
		occupants, err := d.channels.Join(connID, channelID, initial)
		if errors.Is(err, apperrors.ErrChannelFull) {
			continue
		}
		if err != nil {
			return err
		}

		d.hub.Send(connID, game.EvChannelJoined, map[string]any{
			"channelId": channelID,
			"requested": req.ChannelID,
			"players":   occupants,
		})
		return nil
	}

	d.hub.Send(connID, game.EvChannelFull, map[string]any{
		"requested": req.ChannelID,
		"message":   "所有頻道已滿",
	})
	return nil
}

func (d *Dispatcher) onPlayerMove(connID string, data json.RawMessage) error {
	var delta game.MoveDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.channels.Move(connID, delta)
}

func (d *Dispatcher) onRequestMonsters(connID string, data json.RawMessage) error {
	var req requestMonstersReq
	if err := json.Unmarshal(data, &req); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	mapID := req.MapID
	if mapID == "" {
		state, _, ok := d.channels.Get(connID)
		if !ok {
			return apperrors.ErrNotInChannel
		}
		mapID = state.MapID
	}

	d.hub.Send(connID, game.EvMonstersData, map[string]any{
		"mapId":    mapID,
		"monsters": d.monsters.Snapshot(mapID),
	})
	return nil
}

func (d *Dispatcher) onAttackMonster(connID string, data json.RawMessage) error {
	var req attackMonsterReq
	if err := json.Unmarshal(data, &req); err != nil || req.MonsterID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.combat.AttackMonster(connID, req.MonsterID, req.Damage, req.Level)
}

func (d *Dispatcher) onPickupGold(connID string, data json.RawMessage) error {
	var req pickupGoldReq
	if err := json.Unmarshal(data, &req); err != nil || req.MonsterID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	d.monsters.ClaimLoot(req.MonsterID, connID)
	return nil
}

func (d *Dispatcher) onMonsterAttack(connID string, data json.RawMessage) error {
	var req monsterAttackReq
	if err := json.Unmarshal(data, &req); err != nil || req.MonsterID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	target := req.TargetID
	if target == "" {
		target = connID
	}
	d.monsters.MonsterAttackPlayer(req.MonsterID, target)
	return nil
}

func (d *Dispatcher) onSendPKRequest(connID string, data json.RawMessage) error {
	var req sendPKReq
	if err := json.Unmarshal(data, &req); err != nil || req.TargetID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	session, ok := d.sessions.ByConn(connID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if !d.channels.SameChannel(connID, req.TargetID) {
		return apperrors.New(apperrors.ErrCodeNotFound, "目標不在同一頻道")
	}

	d.pk.SendRequest(connID, session.DisplayName, req.TargetID)
	return nil
}

func (d *Dispatcher) onPKResponse(connID string, data json.RawMessage) error {
	var req pkResponseReq
	if err := json.Unmarshal(data, &req); err != nil || req.RequestID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.pk.Respond(req.RequestID, connID, req.Accepted)
}

// onPKEnded 客戶端申報決鬥結束
//
// 只接受雙方確實在決鬥中的申報；勝負以申報方視角換算。
// 換圖與斷線造成的結束不走這裡，由伺服器直接裁定。
func (d *Dispatcher) onPKEnded(connID string, data json.RawMessage) error {
	var req pkEndedReq
	if err := json.Unmarshal(data, &req); err != nil || req.OpponentID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	if !d.pk.InDuel(connID, req.OpponentID) {
		return apperrors.ErrPKRequestNotFound
	}

	if req.Won {
		d.pk.End(connID, req.OpponentID, "reported")
	} else {
		d.pk.End(req.OpponentID, connID, "reported")
	}
	return nil
}

func (d *Dispatcher) onUseSkill(connID string, data json.RawMessage) error {
	var req useSkillReq
	if err := json.Unmarshal(data, &req); err != nil || req.SkillID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.combat.UseSkill(connID, req.SkillID, req.X, req.Y)
}

func (d *Dispatcher) onTakeDamage(connID string, data json.RawMessage) error {
	var req takeDamageReq
	if err := json.Unmarshal(data, &req); err != nil || req.TargetID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.combat.RelayDamage(connID, req.AttackerID, req.TargetID, req.Damage, req.Level)
}

func (d *Dispatcher) onPlayerDeath(connID string, data json.RawMessage) error {
	var req playerDeathReq
	if err := json.Unmarshal(data, &req); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	d.combat.PlayerDeath(connID, req.KillerID)
	return nil
}

func (d *Dispatcher) onUpdateHP(connID string, data json.RawMessage) error {
	var req updateHPReq
	if err := json.Unmarshal(data, &req); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.combat.UpdateHP(connID, req.HP, req.MaxHP)
}

func (d *Dispatcher) onSendChat(connID string, data json.RawMessage) error {
	var req sendChatReq
	if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.relay.SendChat(connID, req.Message)
}

func (d *Dispatcher) onLoadChatHistory(connID string, data json.RawMessage) error {
	var req loadHistoryReq
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.relay.LoadHistory(ctx, connID, req.Limit)
	return nil
}

func (d *Dispatcher) onSendFriendRequest(connID string, data json.RawMessage) error {
	var req friendRequestReq
	if err := json.Unmarshal(data, &req); err != nil || req.TargetAccountID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.relay.SendFriendRequest(connID, req.TargetAccountID)
}

func (d *Dispatcher) onFriendRespond(connID string, data json.RawMessage) error {
	var req friendRespondReq
	if err := json.Unmarshal(data, &req); err != nil || req.RequesterAccountID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return d.relay.RespondFriendRequest(connID, req.RequesterAccountID, req.Accepted)
}

// sendError 把內部錯誤映射為 error 事件
func (d *Dispatcher) sendError(connID, event string, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal error")
	}

	payload := map[string]any{
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if event != "" {
		payload["event"] = event
	}
	if appErr.Details != "" {
		payload["details"] = appErr.Details
	}
	d.hub.Send(connID, game.EvError, payload)
}
