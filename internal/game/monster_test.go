package game_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuuCoder/TuTien2D-sub000/internal/config"
	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

func testMonsters() []config.MonsterConfig {
	return []config.MonsterConfig{
		{ID: "wolf-1", Name: "妖狼", Level: 3, MaxHP: 60, Attack: 12, Defense: 2,
			GoldDrop: 25, ExpDrop: 15, AggroRange: 120, AttackRange: 40,
			MapID: "thanh-van-mon", X: 400, Y: 300},
		{ID: "boar-1", Name: "鐵背野豬", Level: 5, MaxHP: 120, Attack: 18, Defense: 5,
			GoldDrop: 60, ExpDrop: 35, AggroRange: 100, AttackRange: 50,
			MapID: "hac-phong-son", X: 900, Y: 250},
	}
}

// monsterFixture 怪物測試環境：含頻道管理器、時間輪與一個在圖玩家
type monsterFixture struct {
	rec      *recorder
	channels *game.ChannelManager
	wheel    *timewheel.Wheel
	sup      *game.MonsterSupervisor
}

func newMonsterFixture(t *testing.T, respawn, attackInterval time.Duration) *monsterFixture {
	t.Helper()

	rec := &recorder{}
	channels := game.NewChannelManager(2, 50, testRules(), rec, testLogger())
	wheel := timewheel.New(16, 10*time.Millisecond)
	wheel.Start()
	t.Cleanup(wheel.Stop)

	sup := game.NewMonsterSupervisor(testMonsters(), channels, rec, wheel,
		respawn, attackInterval, testLogger())
	t.Cleanup(sup.Stop)

	return &monsterFixture{rec: rec, channels: channels, wheel: wheel, sup: sup}
}

func (f *monsterFixture) join(t *testing.T, connID, mapID string, x, y float64) {
	t.Helper()
	_, err := f.channels.Join(connID, 1, game.PlayerState{MapID: mapID, X: x, Y: y})
	require.NoError(t, err)
}

// TestSnapshotPerMap 測試地圖怪物快照
func TestSnapshotPerMap(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)

	monsters := f.sup.Snapshot("thanh-van-mon")
	require.Len(t, monsters, 1)
	assert.Equal(t, "wolf-1", monsters[0].ID)
	assert.Equal(t, 60, monsters[0].HP)
	assert.False(t, monsters[0].IsDead)

	assert.Empty(t, f.sup.Snapshot("unknown-map"))
}

// TestAttackReducesHPAndBroadcasts 測試攻擊扣血與廣播
func TestAttackReducesHPAndBroadcasts(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)
	f.rec.reset()

	f.sup.Attack("wolf-1", 20, "hunter")

	monsters := f.sup.Snapshot("thanh-van-mon")
	assert.Equal(t, 40, monsters[0].HP)
	assert.Equal(t, 1, f.rec.count("hunter", game.EvMonsterUpdated))
	assert.Equal(t, 0, f.rec.count("hunter", game.EvMonsterDied))
}

// TestKillExactDamage 測試剛好致死的傷害
//
// 60 血的怪物吃 60 點傷害：hp 截斷到 0、轉入死亡、掛起掉落。
func TestKillExactDamage(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)
	f.rec.reset()

	f.sup.Attack("wolf-1", 60, "hunter")

	monsters := f.sup.Snapshot("thanh-van-mon")
	assert.Equal(t, 0, monsters[0].HP)
	assert.True(t, monsters[0].IsDead)
	assert.Equal(t, 25, monsters[0].GoldDropPending)

	ev, ok := f.rec.last("hunter", game.EvMonsterDied)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	assert.Equal(t, "hunter", data["killerId"])
	assert.Equal(t, 25, data["goldDrop"])
}

// TestAttackDeadMonsterIsNoop 測試攻擊已死亡的怪物是 no-op
func TestAttackDeadMonsterIsNoop(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)

	f.sup.Attack("wolf-1", 100, "hunter")
	f.rec.reset()

	// 補刀：不應再有任何廣播或狀態變化
	f.sup.Attack("wolf-1", 100, "late-hunter")

	assert.Equal(t, 0, f.rec.count("hunter", game.EvMonsterDied))
	assert.Equal(t, 0, f.rec.count("hunter", game.EvMonsterUpdated))

	monsters := f.sup.Snapshot("thanh-van-mon")
	assert.Equal(t, 25, monsters[0].GoldDropPending, "掉落不應被補刀覆寫")
}

// TestAttackUnknownMonsterIsNoop 測試攻擊不存在的怪物
func TestAttackUnknownMonsterIsNoop(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)
	f.rec.reset()

	f.sup.Attack("ghost-monster", 50, "hunter")
	assert.Empty(t, f.rec.events)
}

// TestClaimLootFirstWins 測試掉落單次拾取
func TestClaimLootFirstWins(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "killer", "thanh-van-mon", 400, 300)
	f.join(t, "bystander", "thanh-van-mon", 420, 300)

	f.sup.Attack("wolf-1", 60, "killer")
	f.rec.reset()

	gold, ok := f.sup.ClaimLoot("wolf-1", "killer")
	require.True(t, ok)
	assert.Equal(t, 25, gold)

	// 第二次拾取靜默失敗
	_, ok = f.sup.ClaimLoot("wolf-1", "bystander")
	assert.False(t, ok)

	// 拾取者收到金幣，其他人收到移除通知
	assert.Equal(t, 1, f.rec.count("killer", game.EvGoldReceived))
	assert.Equal(t, 1, f.rec.count("bystander", game.EvGoldPickedUp))
	assert.Equal(t, 0, f.rec.count("killer", game.EvGoldPickedUp), "拾取者不重複收到移除通知")
}

// TestClaimLootAliveMonster 測試活著的怪物沒有掉落可拾取
func TestClaimLootAliveMonster(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "greedy", "thanh-van-mon", 400, 300)

	_, ok := f.sup.ClaimLoot("wolf-1", "greedy")
	assert.False(t, ok)
}

// TestClaimLootConcurrent 測試併發拾取只有一人成功
func TestClaimLootConcurrent(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "killer", "thanh-van-mon", 400, 300)
	f.sup.Attack("wolf-1", 60, "killer")

	const claimants = 50
	var successes atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, ok := f.sup.ClaimLoot("wolf-1", fmt.Sprintf("claimant-%d", n)); ok {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load(), "掉落只能被拾取一次")
}

// TestRespawnRestoresMonster 測試重生恢復滿血並廣播
func TestRespawnRestoresMonster(t *testing.T) {
	f := newMonsterFixture(t, 50*time.Millisecond, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)

	f.sup.Attack("wolf-1", 60, "hunter")
	f.rec.reset()

	assert.Eventually(t, func() bool {
		return f.rec.count("hunter", game.EvMonsterRespawned) == 1
	}, 2*time.Second, 10*time.Millisecond, "重生事件應在延遲後廣播")

	monsters := f.sup.Snapshot("thanh-van-mon")
	assert.Equal(t, 60, monsters[0].HP)
	assert.False(t, monsters[0].IsDead)
	assert.Zero(t, monsters[0].GoldDropPending, "未拾取的掉落隨重生清除")
}

// TestMonsterAttackPlayerDamage 測試怪物攻擊玩家的傷害計算
func TestMonsterAttackPlayerDamage(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "victim", "thanh-van-mon", 400, 300)
	f.join(t, "bystander", "thanh-van-mon", 500, 300)
	f.rec.reset()

	f.sup.MonsterAttackPlayer("wolf-1", "victim")

	// 傷害 = 攻擊力 12 - 固定減傷 5 = 7，只送達目標
	ev, ok := f.rec.last("victim", game.EvMonsterAttacked)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	assert.Equal(t, 7, data["damage"])
	assert.Equal(t, 0, f.rec.count("bystander", game.EvMonsterAttacked))
}

// TestAggroEngagesNearbyPlayer 測試玩家進入仇恨範圍後怪物開始攻擊
func TestAggroEngagesNearbyPlayer(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, 30*time.Millisecond)
	f.join(t, "prey", "thanh-van-mon", 400, 300)

	// 在仇恨範圍（120）內移動
	f.sup.OnPlayerMoved("prey", "thanh-van-mon", 450, 300)

	assert.Eventually(t, func() bool {
		return f.rec.count("prey", game.EvMonsterAttacked) >= 2
	}, 2*time.Second, 10*time.Millisecond, "交戰後應按節奏持續攻擊")
}

// TestAggroIgnoresFarPlayer 測試範圍外的玩家不觸發仇恨
func TestAggroIgnoresFarPlayer(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, 20*time.Millisecond)
	f.join(t, "wanderer", "thanh-van-mon", 400, 300)
	f.rec.reset()

	f.sup.OnPlayerMoved("wanderer", "thanh-van-mon", 900, 900)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, f.rec.count("wanderer", game.EvMonsterAttacked))
}

// TestAggroDisengagesOnLeave 測試玩家離開後怪物脫離仇恨
func TestAggroDisengagesOnLeave(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, 30*time.Millisecond)
	f.join(t, "prey", "thanh-van-mon", 400, 300)

	f.sup.OnPlayerMoved("prey", "thanh-van-mon", 450, 300)

	require.Eventually(t, func() bool {
		return f.rec.count("prey", game.EvMonsterAttacked) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	f.sup.OnPlayerLeft("prey")
	time.Sleep(100 * time.Millisecond)
	before := f.rec.count("prey", game.EvMonsterAttacked)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, f.rec.count("prey", game.EvMonsterAttacked),
		"脫離仇恨後不應再攻擊")
}

// TestStatsCountsAliveAndDead 測試怪物統計
func TestStatsCountsAliveAndDead(t *testing.T) {
	f := newMonsterFixture(t, time.Hour, time.Hour)
	f.join(t, "hunter", "thanh-van-mon", 400, 300)

	f.sup.Attack("wolf-1", 999, "hunter")

	stats := f.sup.Stats()
	assert.Equal(t, 1, stats["alive"])
	assert.Equal(t, 1, stats["dead"])
	assert.Equal(t, 2, stats["total"])
}
