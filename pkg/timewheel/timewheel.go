// Package timewheel 實現時間輪算法（Timing Wheel）
//
// 時間輪算法：
//   - 經典調度算法，Netty、Kafka 都在使用
//   - O(1) 插入任務、O(1) 取消任務、O(1) 觸發任務
//
// 核心概念：
//   - 圓形槽位數組（類似時鐘）
//   - 指針定時轉動（如秒針）
//   - 任務按延遲分散在槽位中
//
// 與通用調度器的差異：
//   任務以字串鍵標識，支援按鍵取消——
//   怪物重生計時器、PK 邀請過期等都需要在實體銷毀時撤銷任務，
//   避免過期的閉包去修改已釋放的狀態。
package timewheel

import (
	"container/list"
	"sync"
	"time"
)

// task 調度任務（內部結構）
type task struct {
	id    string
	round int    // 需要轉幾圈
	slot  int    // 所在槽位（取消時用）
	fn    func() // 觸發回調
}

// Wheel 時間輪
//
// 算法說明：
//   圓形槽位數組，指針每個 tick 轉動一格
//
//	Slot 0   →  [重生 slime-1]
//	Slot 1   →  []
//	Slot 2   →  [PK 邀請過期]
//	...
//	Slot 30  →  [重生 wolf-3]  ← 30 秒後執行
//	         ↑ 當前指針
//
// 插入任務：O(1)
//
//	slot = (currentSlot + delayTicks) % slotCount
//	round = (delayTicks - 1) / slotCount
//
// round 以 delayTicks-1 計：delayTicks 恰為整圈數時，指針第一次
// 回到該槽位就該觸發，不需要再多轉一圈。
//
// 取消任務：O(1)
//
//	由 id → *list.Element 索引直接移除
type Wheel struct {
	slots       []*list.List
	index       map[string]*list.Element // 任務 id → 槽位鏈表節點
	slotCount   int
	tick        time.Duration
	currentSlot int
	ticker      *time.Ticker
	mu          sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New 創建時間輪
//
// 參數：
//
//	slotCount: 槽位數量（如 3600 = 一小時精度，每秒一個槽位）
//	tick: 指針轉動間隔（如 1 秒）
func New(slotCount int, tick time.Duration) *Wheel {
	w := &Wheel{
		slots:     make([]*list.List, slotCount),
		index:     make(map[string]*list.Element),
		slotCount: slotCount,
		tick:      tick,
		stopCh:    make(chan struct{}),
	}
	for i := 0; i < slotCount; i++ {
		w.slots[i] = list.New()
	}
	return w
}

// Schedule 添加任務到時間輪
//
// 同一個 id 的舊任務會先被取消（冪等：重複調度即重設計時器）。
// delay 小於一個 tick 時，任務會在下一個 tick 觸發。
func (w *Wheel) Schedule(id string, delay time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.removeLocked(id)

	delayTicks := int(delay / w.tick)
	if delayTicks < 1 {
		delayTicks = 1 // 最小延遲一個 tick，避免在當前槽位永不觸發
	}

	t := &task{
		id:    id,
		round: (delayTicks - 1) / w.slotCount,
		slot:  (w.currentSlot + delayTicks) % w.slotCount,
		fn:    fn,
	}
	w.index[id] = w.slots[t.slot].PushBack(t)
}

// Cancel 取消任務，返回是否存在
func (w *Wheel) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(id)
}

// removeLocked 從槽位與索引移除任務（需持有鎖）
func (w *Wheel) removeLocked(id string) bool {
	elem, ok := w.index[id]
	if !ok {
		return false
	}
	t := elem.Value.(*task)
	w.slots[t.slot].Remove(elem)
	delete(w.index, id)
	return true
}

// Start 啟動時間輪
func (w *Wheel) Start() {
	w.ticker = time.NewTicker(w.tick)
	w.wg.Add(1)
	go w.run()
}

// run 時間輪主循環
func (w *Wheel) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ticker.C:
			w.advance()
		case <-w.stopCh:
			return
		}
	}
}

// advance 指針轉動一格
//
// 算法：
//  1. 指針前進：currentSlot = (currentSlot + 1) % slotCount
//  2. 檢查當前槽位的所有任務
//  3. 若 task.round == 0：時間到，觸發執行
//  4. 若 task.round > 0：圈數遞減
func (w *Wheel) advance() {
	w.mu.Lock()

	w.currentSlot = (w.currentSlot + 1) % w.slotCount
	slot := w.slots[w.currentSlot]

	var due []*task
	var next *list.Element
	for e := slot.Front(); e != nil; e = next {
		next = e.Next()
		t := e.Value.(*task)
		if t.round == 0 {
			due = append(due, t)
			slot.Remove(e)
			delete(w.index, t.id)
		} else {
			t.round--
		}
	}

	w.mu.Unlock()

	// 在鎖外執行回調，避免回調重新調度時死鎖
	for _, t := range due {
		t.fn()
	}
}

// Stop 停止時間輪並丟棄所有未觸發的任務
func (w *Wheel) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.slots {
		w.slots[i].Init()
	}
	w.index = make(map[string]*list.Element)
}

// Size 返回時間輪中的任務總數
func (w *Wheel) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}
