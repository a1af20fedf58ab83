package timewheel_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

// TestScheduleFires 測試任務按時觸發
func TestScheduleFires(t *testing.T) {
	w := timewheel.New(16, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	fired := make(chan struct{})
	w.Schedule("job-1", 30*time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("任務未在期限內觸發")
	}

	assert.Equal(t, 0, w.Size())
}

// TestCancelPreventsFiring 測試取消後任務不觸發
func TestCancelPreventsFiring(t *testing.T) {
	w := timewheel.New(16, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	var fired atomic.Bool
	w.Schedule("job-1", 50*time.Millisecond, func() {
		fired.Store(true)
	})

	require.True(t, w.Cancel("job-1"))
	assert.False(t, w.Cancel("job-1"), "重複取消應返回 false")

	time.Sleep(200 * time.Millisecond)
	assert.False(t, fired.Load(), "已取消的任務不應觸發")
}

// TestRescheduleReplacesOld 測試同一 id 重複調度會取代舊任務
func TestRescheduleReplacesOld(t *testing.T) {
	w := timewheel.New(16, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	var mu sync.Mutex
	var results []string

	w.Schedule("job-1", 30*time.Millisecond, func() {
		mu.Lock()
		results = append(results, "old")
		mu.Unlock()
	})
	w.Schedule("job-1", 60*time.Millisecond, func() {
		mu.Lock()
		results = append(results, "new")
		mu.Unlock()
	})

	assert.Equal(t, 1, w.Size(), "重複調度不應增加任務數")

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0], "舊任務應被取代")
}

// TestLongDelaySpansMultipleRounds 測試跨圈的長延遲任務
func TestLongDelaySpansMultipleRounds(t *testing.T) {
	// 4 個槽位 × 10ms = 一圈 40ms；120ms 延遲需要轉三圈
	w := timewheel.New(4, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	w.Schedule("job-1", 120*time.Millisecond, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond,
			"跨圈任務不應提早觸發")
	case <-time.After(time.Second):
		t.Fatal("跨圈任務未觸發")
	}
}

// TestExactRevolutionDelay 測試延遲恰為整圈時不多轉一圈
func TestExactRevolutionDelay(t *testing.T) {
	// 5 個槽位 × 20ms = 一圈 100ms；延遲 100ms 落在當前槽位，
	// 指針第一次回來就應觸發，而不是再等一圈（200ms）
	w := timewheel.New(5, 20*time.Millisecond)
	w.Start()
	defer w.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	w.Schedule("job-1", 100*time.Millisecond, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond,
			"整圈延遲不應提早觸發")
		assert.Less(t, elapsed, 170*time.Millisecond,
			"整圈延遲不應多轉一圈")
	case <-time.After(time.Second):
		t.Fatal("整圈延遲任務未觸發")
	}
}

// TestCallbackCanReschedule 測試回調內重新調度不會死鎖
func TestCallbackCanReschedule(t *testing.T) {
	w := timewheel.New(16, 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	var count atomic.Int32
	var tick func()
	tick = func() {
		if count.Add(1) < 3 {
			w.Schedule("ticker", 20*time.Millisecond, tick)
		}
	}
	w.Schedule("ticker", 20*time.Millisecond, tick)

	assert.Eventually(t, func() bool {
		return count.Load() >= 3
	}, time.Second, 10*time.Millisecond, "連鎖調度應持續觸發")
}

// TestStopDiscardsPending 測試停止後丟棄未觸發的任務
func TestStopDiscardsPending(t *testing.T) {
	w := timewheel.New(16, 10*time.Millisecond)
	w.Start()

	var fired atomic.Bool
	w.Schedule("job-1", 500*time.Millisecond, func() {
		fired.Store(true)
	})

	w.Stop()
	assert.Equal(t, 0, w.Size())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}
