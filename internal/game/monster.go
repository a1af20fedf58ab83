package game

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/config"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

// 怪物狀態機：
//
//	ALIVE ──攻擊至 hp=0──► DEAD(goldDropPending, 單次拾取)
//	  ▲                        │
//	  └────重生計時器到期───────┘
//
// 每個 monsterId 只有一個權威實例，只由 Supervisor 回應戰鬥事件時變更。
// 未知的 monsterId、攻擊已死亡的怪物、重複拾取都是冪等的 no-op，
// 不是錯誤——重複或遲到的訊息不應該讓呼叫方失敗。

// playerMitigation 怪物攻擊玩家時的固定減傷
const playerMitigation = 5

// Monster 怪物實例（模板欄位 + 執行期狀態）
type Monster struct {
	ID              string  `json:"monsterId"`
	Name            string  `json:"name"`
	Level           int     `json:"level"`
	MaxHP           int     `json:"maxHp"`
	Attack          int     `json:"attack"`
	Defense         int     `json:"defense"`
	GoldDrop        int     `json:"goldDrop"`
	ExpDrop         int     `json:"expDrop"`
	AggroRange      float64 `json:"aggroRange"`
	AttackRange     float64 `json:"attackRange"`
	MapID           string  `json:"mapId"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	HP              int     `json:"hp"`
	IsDead          bool    `json:"isDead"`
	GoldDropPending int     `json:"goldDropPending"`

	engagedTarget string // 仇恨目標的連線 id，空字串表示閒置
}

// MonsterSupervisor 怪物監督器
//
// 持有每張地圖的怪物族群，驅動 閒置 → 交戰 → 死亡 → 重生 的循環。
// 重生與攻擊節奏都是時間輪上以實體 id 為鍵的任務，
// 監督器停止時一併取消，避免過期閉包改動已釋放的狀態。
type MonsterSupervisor struct {
	monsters map[string]*Monster
	byMap    map[string][]string
	mu       sync.Mutex

	channels       *ChannelManager
	sender         EventSender
	wheel          *timewheel.Wheel
	respawnDelay   time.Duration
	attackInterval time.Duration
	logger         *slog.Logger
}

// NewMonsterSupervisor 創建怪物監督器並載入地圖怪物
func NewMonsterSupervisor(
	templates []config.MonsterConfig,
	channels *ChannelManager,
	sender EventSender,
	wheel *timewheel.Wheel,
	respawnDelay, attackInterval time.Duration,
	logger *slog.Logger,
) *MonsterSupervisor {
	s := &MonsterSupervisor{
		monsters:       make(map[string]*Monster, len(templates)),
		byMap:          make(map[string][]string),
		channels:       channels,
		sender:         sender,
		wheel:          wheel,
		respawnDelay:   respawnDelay,
		attackInterval: attackInterval,
		logger:         logger,
	}

	for _, t := range templates {
		m := &Monster{
			ID:          t.ID,
			Name:        t.Name,
			Level:       t.Level,
			MaxHP:       t.MaxHP,
			Attack:      t.Attack,
			Defense:     t.Defense,
			GoldDrop:    t.GoldDrop,
			ExpDrop:     t.ExpDrop,
			AggroRange:  t.AggroRange,
			AttackRange: t.AttackRange,
			MapID:       t.MapID,
			X:           t.X,
			Y:           t.Y,
			HP:          t.MaxHP,
		}
		s.monsters[m.ID] = m
		s.byMap[m.MapID] = append(s.byMap[m.MapID], m.ID)
	}

	return s
}

// Snapshot 返回指定地圖的怪物快照
func (s *MonsterSupervisor) Snapshot(mapID string) []Monster {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byMap[mapID]
	snapshot := make([]Monster, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, *s.monsters[id])
	}
	return snapshot
}

// Attack 對怪物結算傷害
//
// hp 截斷到 0。歸零時：轉入 DEAD、掛起掉落金幣、向地圖廣播死亡事件
// （含掉落金額與擊殺者），並調度重生計時器。未歸零時廣播血量更新。
// 未知 id 或已死亡的怪物是 no-op。
func (s *MonsterSupervisor) Attack(monsterID string, damage int, killerConnID string) {
	if damage < 0 {
		damage = 0
	}

	s.mu.Lock()

	m, ok := s.monsters[monsterID]
	if !ok || m.IsDead {
		s.mu.Unlock()
		return
	}

	m.HP -= damage
	if m.HP < 0 {
		m.HP = 0
	}

	if m.HP > 0 {
		snapshot := *m
		s.mu.Unlock()
		s.channels.BroadcastMap(snapshot.MapID, "", EvMonsterUpdated, snapshot)
		return
	}

	// 死亡轉移
	m.IsDead = true
	m.GoldDropPending = m.GoldDrop
	m.engagedTarget = ""
	snapshot := *m
	s.mu.Unlock()

	s.wheel.Cancel("aggro/" + monsterID)

	s.channels.BroadcastMap(snapshot.MapID, "", EvMonsterDied, map[string]any{
		"monster":  snapshot,
		"killerId": killerConnID,
		"goldDrop": snapshot.GoldDropPending,
		"expDrop":  snapshot.ExpDrop,
	})

	s.logger.Info("怪物死亡",
		"monster_id", monsterID,
		"killer", killerConnID,
		"gold_drop", snapshot.GoldDropPending)

	s.wheel.Schedule("respawn/"+monsterID, s.respawnDelay, func() {
		s.respawn(monsterID)
	})
}

// respawn 重生：恢復滿血、清除掛起掉落，並廣播重生事件
func (s *MonsterSupervisor) respawn(monsterID string) {
	s.mu.Lock()

	m, ok := s.monsters[monsterID]
	if !ok || !m.IsDead {
		// 重複的重生觸發是 no-op
		s.mu.Unlock()
		return
	}

	m.HP = m.MaxHP
	m.IsDead = false
	m.GoldDropPending = 0
	m.engagedTarget = ""
	snapshot := *m
	s.mu.Unlock()

	s.channels.BroadcastMap(snapshot.MapID, "", EvMonsterRespawned, snapshot)

	s.logger.Debug("怪物重生", "monster_id", monsterID)
}

// ClaimLoot 拾取怪物掉落
//
// 僅在怪物已死亡且仍有掛起金幣時有效。先到先得：
// 檢查與清除在同一次持鎖中完成，之後的呼叫者靜默得到 no-op。
// 成功時向拾取者發 gold_received，向地圖其他人發 gold_picked_up
// 移除拾取物的顯示。
func (s *MonsterSupervisor) ClaimLoot(monsterID, claimantConnID string) (int, bool) {
	s.mu.Lock()

	m, ok := s.monsters[monsterID]
	if !ok || !m.IsDead || m.GoldDropPending <= 0 {
		s.mu.Unlock()
		return 0, false
	}

	gold := m.GoldDropPending
	m.GoldDropPending = 0
	mapID := m.MapID
	s.mu.Unlock()

	s.sender.Send(claimantConnID, EvGoldReceived, map[string]any{
		"monsterId": monsterID,
		"amount":    gold,
	})
	s.channels.BroadcastMap(mapID, claimantConnID, EvGoldPickedUp, map[string]any{
		"monsterId": monsterID,
		"claimedBy": claimantConnID,
		"amount":    gold,
	})

	return gold, true
}

// MonsterAttackPlayer 怪物攻擊玩家
//
// 傷害是確定性的：攻擊力減去固定減傷，至少為 1。
// 只送達目標連線本身，不做頻道廣播。
func (s *MonsterSupervisor) MonsterAttackPlayer(monsterID, targetConnID string) {
	s.mu.Lock()

	m, ok := s.monsters[monsterID]
	if !ok || m.IsDead {
		s.mu.Unlock()
		return
	}

	damage := m.Attack - playerMitigation
	if damage < 1 {
		damage = 1
	}
	s.mu.Unlock()

	s.sender.Send(targetConnID, EvMonsterAttacked, map[string]any{
		"monsterId": monsterID,
		"damage":    damage,
	})
}

// OnPlayerMoved 仇恨判定：玩家進入閒置怪物的仇恨範圍時交戰
//
// 由頻道管理器的移動掛鉤呼叫。已交戰的怪物在目標離開地圖或
// 斷線前持續鎖定（見 OnPlayerLeft）。
func (s *MonsterSupervisor) OnPlayerMoved(connID, mapID string, x, y float64) {
	s.mu.Lock()

	var engaged []string
	for _, id := range s.byMap[mapID] {
		m := s.monsters[id]
		if m.IsDead || m.engagedTarget != "" || m.AggroRange <= 0 {
			continue
		}
		if dist(m.X, m.Y, x, y) <= m.AggroRange {
			m.engagedTarget = connID
			engaged = append(engaged, id)
		}
	}
	s.mu.Unlock()

	for _, id := range engaged {
		monsterID := id
		s.wheel.Schedule("aggro/"+monsterID, s.attackInterval, func() {
			s.aggroTick(monsterID)
		})
	}
}

// aggroTick 交戰中的攻擊節奏：打一下，仍在交戰就排下一輪
func (s *MonsterSupervisor) aggroTick(monsterID string) {
	s.mu.Lock()
	m, ok := s.monsters[monsterID]
	if !ok || m.IsDead || m.engagedTarget == "" {
		s.mu.Unlock()
		return
	}
	target := m.engagedTarget
	mapID := m.MapID
	s.mu.Unlock()

	// 目標已離開地圖 → 脫離仇恨
	if state, _, ok := s.channels.Get(target); !ok || state.MapID != mapID {
		s.disengage(monsterID)
		return
	}

	s.MonsterAttackPlayer(monsterID, target)

	s.wheel.Schedule("aggro/"+monsterID, s.attackInterval, func() {
		s.aggroTick(monsterID)
	})
}

// disengage 脫離仇恨
func (s *MonsterSupervisor) disengage(monsterID string) {
	s.mu.Lock()
	if m, ok := s.monsters[monsterID]; ok {
		m.engagedTarget = ""
	}
	s.mu.Unlock()
	s.wheel.Cancel("aggro/" + monsterID)
}

// OnPlayerLeft 玩家斷線/離開：鎖定該玩家的怪物全部脫離仇恨
func (s *MonsterSupervisor) OnPlayerLeft(connID string) {
	s.mu.Lock()
	var toDisengage []string
	for id, m := range s.monsters {
		if m.engagedTarget == connID {
			m.engagedTarget = ""
			toDisengage = append(toDisengage, id)
		}
	}
	s.mu.Unlock()

	for _, id := range toDisengage {
		s.wheel.Cancel("aggro/" + id)
	}
}

// Stats 返回族群統計（監控用）
func (s *MonsterSupervisor) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive, dead := 0, 0
	for _, m := range s.monsters {
		if m.IsDead {
			dead++
		} else {
			alive++
		}
	}
	return map[string]any{
		"alive": alive,
		"dead":  dead,
		"total": len(s.monsters),
	}
}

// Stop 取消所有與怪物相關的排程任務
func (s *MonsterSupervisor) Stop() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.monsters))
	for id := range s.monsters {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.wheel.Cancel("respawn/" + id)
		s.wheel.Cancel("aggro/" + id)
	}
}

// dist 歐氏距離
func dist(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
