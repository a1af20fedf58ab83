package game

import (
	"time"
)

// PlayerState 頻道內的玩家狀態
//
// 由擁有連線的移動/HP 訊息寫入，由廣播扇出讀取；
// 斷線或切換頻道時銷毀。JSON 鍵名對齊客戶端協議（camelCase）。
type PlayerState struct {
	ConnID      string  `json:"connectionId"`
	AccountID   string  `json:"accountId"`
	DisplayName string  `json:"displayName"`
	MapID       string  `json:"mapId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Direction   string  `json:"direction"`
	Action      string  `json:"action"`
	HP          int     `json:"hp,omitempty"`
	MaxHP       int     `json:"maxHp,omitempty"`

	lastMoveAt time.Time
}

// MoveDelta 移動增量
//
// 指標欄位：nil 表示客戶端本次未提供，合併時保留舊值
// （merge-not-replace，省略的欄位不會被清空）。
type MoveDelta struct {
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Direction *string  `json:"direction"`
	Action    *string  `json:"action"`
	MapID     *string  `json:"mapId"`
}

// merge 將增量合併進狀態，返回地圖是否變更
func (p *PlayerState) merge(d MoveDelta) (mapChanged bool, oldMap string) {
	oldMap = p.MapID
	if d.X != nil {
		p.X = *d.X
	}
	if d.Y != nil {
		p.Y = *d.Y
	}
	if d.Direction != nil {
		p.Direction = *d.Direction
	}
	if d.Action != nil {
		p.Action = *d.Action
	}
	if d.MapID != nil && *d.MapID != p.MapID {
		p.MapID = *d.MapID
		mapChanged = true
	}
	return mapChanged, oldMap
}

// Channel 固定容量的玩家分區（房間）
//
// 廣播事件以頻道為界。Channel 本身不帶鎖：
// 所有讀寫都經由 ChannelManager 並在其鎖保護下進行（單一擁有者）。
type Channel struct {
	ID      int
	players map[string]*PlayerState // connID -> state
}

// newChannel 創建頻道
func newChannel(id int) *Channel {
	return &Channel{
		ID:      id,
		players: make(map[string]*PlayerState),
	}
}

// snapshot 返回頻道玩家列表（排除指定連線）
func (c *Channel) snapshot(exclude string) []PlayerState {
	players := make([]PlayerState, 0, len(c.players))
	for connID, p := range c.players {
		if connID == exclude {
			continue
		}
		players = append(players, *p)
	}
	return players
}
