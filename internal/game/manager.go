package game

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
)

// ChannelManager 頻道管理器
//
// 把連線分割到固定的一組頻道（1..N），每個頻道有玩家上限。
// 一條連線同一時間至多屬於一個頻道。
//
// 併發控制：單一寫鎖擁有所有頻道映射與成員索引，
// 跨頻道切換（舊頻道移除 + 新頻道插入）在一次持鎖中完成，
// 不存在部分生效需要回滾的失敗模式。
type ChannelManager struct {
	channels map[int]*Channel
	byConn   map[string]int // connID -> channelID
	capacity int
	mu       sync.RWMutex

	sender EventSender
	logger *slog.Logger
	rules  validator.Rules

	// OnMapChange 玩家切換地圖時的掛鉤（接 PK 棄權裁定）
	OnMapChange func(connID, oldMap, newMap string)
	// OnMove 玩家移動後的掛鉤（接怪物仇恨判定）
	OnMove func(connID, mapID string, x, y float64)
}

// NewChannelManager 創建頻道管理器
//
// channelCount 個頻道，編號 1..channelCount，各自容量 capacity。
func NewChannelManager(channelCount, capacity int, rules validator.Rules, sender EventSender, logger *slog.Logger) *ChannelManager {
	m := &ChannelManager{
		channels: make(map[int]*Channel, channelCount),
		byConn:   make(map[string]int),
		capacity: capacity,
		sender:   sender,
		logger:   logger,
		rules:    rules,
	}
	for id := 1; id <= channelCount; id++ {
		m.channels[id] = newChannel(id)
	}
	return m
}

// ChannelCount 返回頻道數量
func (m *ChannelManager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Join 將連線加入指定頻道
//
// 行為：
//   - 未知頻道編號 → ErrUnknownChannel（協議錯誤）
//   - 頻道已滿且連線不在該頻道內 → ErrChannelFull（容量建議，非致命，
//     呼叫方策略是換下一個頻道重試）
//   - 成功：從舊頻道移除（向舊頻道廣播 player_left），插入新頻道，
//     返回新頻道現有玩家列表（不含自己），並向頻道其他人廣播 player_joined
func (m *ChannelManager) Join(connID string, channelID int, initial PlayerState) ([]PlayerState, error) {
	m.mu.Lock()

	ch, ok := m.channels[channelID]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.ErrUnknownChannel
	}

	prevID, inChannel := m.byConn[connID]
	if inChannel && prevID == channelID {
		// 重複加入同一頻道：冪等，返回現況
		occupants := ch.snapshot(connID)
		m.mu.Unlock()
		return occupants, nil
	}

	if len(ch.players) >= m.capacity {
		m.mu.Unlock()
		return nil, apperrors.ErrChannelFull
	}

	// 先離開舊頻道
	var leftBroadcast []string
	if inChannel {
		prev := m.channels[prevID]
		delete(prev.players, connID)
		leftBroadcast = connIDs(prev.players)
	}

	initial.ConnID = connID
	initial.lastMoveAt = time.Now()
	ch.players[connID] = &initial
	m.byConn[connID] = channelID

	occupants := ch.snapshot(connID)
	joinedBroadcast := connIDs(ch.players)
	state := initial

	m.mu.Unlock()

	// 廣播在鎖外執行（發送是即發即忘，不需要一致性讀取）
	if leftBroadcast != nil {
		m.fanOut(leftBroadcast, connID, EvPlayerLeft, map[string]any{
			"connectionId": connID,
			"channelId":    prevID,
		})
	}
	m.fanOut(joinedBroadcast, connID, EvPlayerJoined, state)

	m.logger.Info("玩家加入頻道",
		"conn_id", connID,
		"channel_id", channelID,
		"map_id", state.MapID)

	return occupants, nil
}

// Leave 將連線移出所在頻道（斷線清理或主動離開）
//
// 返回原頻道編號；連線不在任何頻道時返回 (0, false)。
func (m *ChannelManager) Leave(connID string) (int, bool) {
	m.mu.Lock()

	channelID, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return 0, false
	}

	ch := m.channels[channelID]
	delete(ch.players, connID)
	delete(m.byConn, connID)
	remaining := connIDs(ch.players)

	m.mu.Unlock()

	m.fanOut(remaining, connID, EvPlayerLeft, map[string]any{
		"connectionId": connID,
		"channelId":    channelID,
	})

	return channelID, true
}

// Move 套用移動增量並向頻道內其他人扇出 player_moved
//
// 只接受目前在頻道內的連線；儲存的狀態以合併方式更新，
// 省略的欄位保留舊值。位移在持鎖期間以反作弊規則校驗，
// 超界的移動被拒絕且不套用。
//
// 複寫語義：無回執、即發即忘。單一發送者的更新在頻道內
// 保持發送順序（每連線單一寫入者 + 閘道層順序佇列）；
// 跨發送者沒有順序保證。
func (m *ChannelManager) Move(connID string, delta MoveDelta) error {
	m.mu.Lock()

	channelID, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return apperrors.ErrNotInChannel
	}

	ch := m.channels[channelID]
	p := ch.players[connID]

	now := time.Now()
	elapsed := now.Sub(p.lastMoveAt)

	// 位移校驗（反瞬移）；換圖的位置跳躍不在此限。
	// 單軸增量也要校驗：缺少的軸以現值代入，否則只送一個軸就能繞過
	if (delta.X != nil || delta.Y != nil) && (delta.MapID == nil || *delta.MapID == p.MapID) {
		toX, toY := p.X, p.Y
		if delta.X != nil {
			toX = *delta.X
		}
		if delta.Y != nil {
			toY = *delta.Y
		}
		if v := m.rules.CheckMovement(p.X, p.Y, toX, toY, elapsed); !v.OK {
			m.mu.Unlock()
			m.logger.Warn("移動校驗未通過",
				"conn_id", connID,
				"reason", v.Reason)
			return apperrors.New(apperrors.ErrCodeInvalidInput, "invalid movement").WithDetails(v.Reason)
		}
	}

	mapChanged, oldMap := p.merge(delta)
	p.lastMoveAt = now

	state := *p
	targets := connIDs(ch.players)

	m.mu.Unlock()

	m.fanOut(targets, connID, EvPlayerMoved, state)

	if mapChanged && m.OnMapChange != nil {
		m.OnMapChange(connID, oldMap, state.MapID)
	}
	if m.OnMove != nil {
		m.OnMove(connID, state.MapID, state.X, state.Y)
	}

	return nil
}

// UpdateHP 更新玩家血量並向頻道廣播
func (m *ChannelManager) UpdateHP(connID string, hp, maxHP int) error {
	m.mu.Lock()

	channelID, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return apperrors.ErrNotInChannel
	}

	ch := m.channels[channelID]
	p := ch.players[connID]
	p.HP = hp
	if maxHP > 0 {
		p.MaxHP = maxHP
	}
	state := *p
	targets := connIDs(ch.players)

	m.mu.Unlock()

	m.fanOut(targets, connID, EvPlayerHPUpdated, map[string]any{
		"connectionId": connID,
		"hp":           state.HP,
		"maxHp":        state.MaxHP,
	})

	return nil
}

// Get 查詢連線的玩家狀態與所在頻道
func (m *ChannelManager) Get(connID string) (PlayerState, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channelID, ok := m.byConn[connID]
	if !ok {
		return PlayerState{}, 0, false
	}
	return *m.channels[channelID].players[connID], channelID, true
}

// SameChannel 返回兩條連線是否在同一頻道
func (m *ChannelManager) SameChannel(a, b string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ca, ok := m.byConn[a]
	if !ok {
		return false
	}
	cb, ok := m.byConn[b]
	return ok && ca == cb
}

// BroadcastChannel 向連線所在頻道廣播事件（可排除發送者）
func (m *ChannelManager) BroadcastChannel(connID string, excludeSelf bool, event string, data any) {
	m.mu.RLock()
	channelID, ok := m.byConn[connID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	targets := connIDs(m.channels[channelID].players)
	m.mu.RUnlock()

	exclude := ""
	if excludeSelf {
		exclude = connID
	}
	m.fanOut(targets, exclude, event, data)
}

// BroadcastMapChannel 向發送者所在頻道中同地圖的玩家廣播（含發送者）
//
// 聊天的可見範圍：同頻道且同地圖。
func (m *ChannelManager) BroadcastMapChannel(connID string, event string, data any) bool {
	m.mu.RLock()
	channelID, ok := m.byConn[connID]
	if !ok {
		m.mu.RUnlock()
		return false
	}
	ch := m.channels[channelID]
	mapID := ch.players[connID].MapID
	var targets []string
	for id, p := range ch.players {
		if p.MapID == mapID {
			targets = append(targets, id)
		}
	}
	m.mu.RUnlock()

	m.fanOut(targets, "", event, data)
	return true
}

// BroadcastMap 向指定地圖上的所有玩家廣播事件（跨頻道）
func (m *ChannelManager) BroadcastMap(mapID, exclude string, event string, data any) {
	m.mu.RLock()
	var targets []string
	for _, ch := range m.channels {
		for connID, p := range ch.players {
			if p.MapID == mapID {
				targets = append(targets, connID)
			}
		}
	}
	m.mu.RUnlock()

	m.fanOut(targets, exclude, event, data)
}

// PlayersOnMap 返回指定地圖上的玩家快照
func (m *ChannelManager) PlayersOnMap(mapID string) []PlayerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var players []PlayerState
	for _, ch := range m.channels {
		for _, p := range ch.players {
			if p.MapID == mapID {
				players = append(players, *p)
			}
		}
	}
	return players
}

// Stats 返回各頻道佔用（監控用）
func (m *ChannelManager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	occupancy := make(map[int]int, len(m.channels))
	total := 0
	for id, ch := range m.channels {
		occupancy[id] = len(ch.players)
		total += len(ch.players)
	}
	return map[string]any{
		"channels":      occupancy,
		"total_players": total,
		"capacity":      m.capacity,
	}
}

// fanOut 向目標清單發送事件，跳過被排除的連線
func (m *ChannelManager) fanOut(targets []string, exclude string, event string, data any) {
	for _, id := range targets {
		if id == exclude {
			continue
		}
		m.sender.Send(id, event, data)
	}
}

// connIDs 收集玩家映射的鍵
func connIDs(players map[string]*PlayerState) []string {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	return ids
}
