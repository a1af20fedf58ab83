package game_test

import (
	"log/slog"
	"sync"

	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
)

// sentEvent 記錄一次發送
type sentEvent struct {
	ConnID string
	Event  string
	Data   any
}

// recorder 記錄所有出站事件的測試替身
type recorder struct {
	mu     sync.Mutex
	events []sentEvent
	closed []string
}

func (r *recorder) Send(connID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{ConnID: connID, Event: event, Data: data})
}

func (r *recorder) CloseConn(connID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, connID)
}

// count 統計某連線收到某事件的次數
func (r *recorder) count(connID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.ConnID == connID && e.Event == event {
			n++
		}
	}
	return n
}

// last 返回某連線最後收到的指定事件
func (r *recorder) last(connID, event string) (sentEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].ConnID == connID && r.events[i].Event == event {
			return r.events[i], true
		}
	}
	return sentEvent{}, false
}

// closedConns 返回被強制關閉的連線
func (r *recorder) closedConns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.closed))
	copy(out, r.closed)
	return out
}

// reset 清空記錄
func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.closed = nil
}

// testLogger 測試時丟棄日誌輸出
func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testRules 測試用的反作弊參數
func testRules() validator.Rules {
	return validator.Rules{
		MaxSpeed:       240,
		Tolerance:      1.5,
		DamageBase:     50,
		DamagePerLevel: 20,
		MaxLootGold:    10000,
		MaxChatLength:  200,
		MaxSkillRange:  500,
	}
}
