// Package limiter 實作滑動視窗限流器
//
// 演算法原理：
//  1. 記錄每個動作的時間戳記
//  2. 統計滑動視窗內的次數
//  3. 超過限制則拒絕，並額外設定封鎖期
//
// 與單純滑動視窗的差異：
//   超限的瞬間會設定 blockedUntil——在封鎖期內，無論視窗佔用如何，
//   該動作的所有嘗試一律拒絕。這是刻意的防爆發設計：一次爆發換來
//   一段定時封鎖，而不只是被動節流。
//
// 違規會累計每個行為者的可疑度計數；越過門檻只記錄升級訊號
// （自動封禁策略明確不在此核心的範圍內）。
package limiter

import (
	"log/slog"
	"sync"
	"time"
)

// Rule 單一動作的限流規則
type Rule struct {
	Limit  int           // 視窗內最大次數
	Window time.Duration // 視窗大小
	Block  time.Duration // 超限後的封鎖時間
}

// bucket 每個 (行為者, 動作) 的狀態
type bucket struct {
	requests     []time.Time
	blockedUntil time.Time
}

// SuspicionThreshold 可疑度升級門檻
const SuspicionThreshold = 10

// ActionLimiter 以 (行為者, 動作) 為鍵的限流器
type ActionLimiter struct {
	rules     map[string]Rule
	buckets   map[string]map[string]*bucket // actorID -> action -> bucket
	suspicion map[string]int                // actorID -> 違規次數
	mu        sync.Mutex
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// now 可注入的時鐘（測試用）
	now func() time.Time
}

// New 創建限流器並啟動過期清掃
func New(rules map[string]Rule, logger *slog.Logger) *ActionLimiter {
	l := &ActionLimiter{
		rules:     rules,
		buckets:   make(map[string]map[string]*bucket),
		suspicion: make(map[string]int),
		logger:    logger,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}

	l.wg.Add(1)
	go l.sweepLoop()

	return l
}

// Allow 檢查是否允許動作
//
// 返回值：
//
//	allowed: 是否放行
//	retryAfter: 拒絕時建議的重試等待時間（放行時為 0）
//
// 執行流程（整段持鎖，檢查與記錄不可分割）：
//  1. 無規則的動作一律放行
//  2. 封鎖期內直接拒絕並累計可疑度
//  3. 清理視窗外的時間戳記
//  4. 達到上限 → 拒絕 + 設定封鎖 + 累計可疑度
//  5. 未達上限 → 記錄本次動作
func (l *ActionLimiter) Allow(actorID, action string) (bool, time.Duration) {
	rule, ok := l.rules[action]
	if !ok {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	actorBuckets, ok := l.buckets[actorID]
	if !ok {
		actorBuckets = make(map[string]*bucket)
		l.buckets[actorID] = actorBuckets
	}
	b, ok := actorBuckets[action]
	if !ok {
		b = &bucket{}
		actorBuckets[action] = b
	}

	// 封鎖期內：不看視窗佔用，一律拒絕。
	// 封鎖期內的每次嘗試也算違規，持續敲打的行為者可疑度要跟著漲
	if now.Before(b.blockedUntil) {
		l.recordViolationLocked(actorID, action)
		return false, b.blockedUntil.Sub(now)
	}

	// 清理過期請求
	windowStart := now.Add(-rule.Window)
	validIdx := len(b.requests)
	for i, reqTime := range b.requests {
		if reqTime.After(windowStart) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		b.requests = b.requests[validIdx:]
	}

	if len(b.requests) >= rule.Limit {
		b.blockedUntil = now.Add(rule.Block)
		l.recordViolationLocked(actorID, action)

		retryAfter := rule.Block
		if retryAfter == 0 {
			retryAfter = rule.Window
		}
		return false, retryAfter
	}

	b.requests = append(b.requests, now)
	return true, 0
}

// recordViolationLocked 累計可疑度並在越過門檻時記錄升級訊號（需持有鎖）
func (l *ActionLimiter) recordViolationLocked(actorID, action string) {
	l.suspicion[actorID]++
	count := l.suspicion[actorID]

	l.logger.Debug("限流拒絕",
		"actor_id", actorID,
		"action", action,
		"suspicion", count)

	if count == SuspicionThreshold {
		// 升級訊號僅記錄，不執行自動封禁
		l.logger.Warn("行為者可疑度達到門檻",
			"actor_id", actorID,
			"suspicion", count)
	}
}

// Suspicion 返回行為者的可疑度計數
func (l *ActionLimiter) Suspicion(actorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suspicion[actorID]
}

// RemoveActor 移除行為者的所有狀態（斷線清理）
func (l *ActionLimiter) RemoveActor(actorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, actorID)
	delete(l.suspicion, actorID)
}

// sweepLoop 定期清理完全過期的 bucket
func (l *ActionLimiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep 移除視窗與封鎖期都已過期的 bucket
func (l *ActionLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for actorID, actorBuckets := range l.buckets {
		for action, b := range actorBuckets {
			rule := l.rules[action]
			if now.After(b.blockedUntil) &&
				(len(b.requests) == 0 || now.Sub(b.requests[len(b.requests)-1]) > rule.Window) {
				delete(actorBuckets, action)
			}
		}
		if len(actorBuckets) == 0 {
			delete(l.buckets, actorID)
		}
	}
}

// Stop 停止限流器
func (l *ActionLimiter) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// Stats 返回統計資訊（監控用）
func (l *ActionLimiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"tracked_actors":   len(l.buckets),
		"suspected_actors": len(l.suspicion),
	}
}
