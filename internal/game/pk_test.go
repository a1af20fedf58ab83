package game_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

func newTestPK(t *testing.T, ttl time.Duration) (*game.PKManager, *recorder) {
	t.Helper()

	rec := &recorder{}
	wheel := timewheel.New(16, 10*time.Millisecond)
	wheel.Start()
	t.Cleanup(wheel.Stop)

	return game.NewPKManager(ttl, rec, wheel, testLogger()), rec
}

// TestSendRequestReachesTargetOnly 測試邀請只送達目標
func TestSendRequestReachesTargetOnly(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NotEmpty(t, reqID)

	assert.Equal(t, 1, rec.count("bob", game.EvPKRequest))
	assert.Equal(t, 0, rec.count("alice", game.EvPKRequest))

	ev, _ := rec.last("bob", game.EvPKRequest)
	data := ev.Data.(map[string]any)
	assert.Equal(t, reqID, data["requestId"])
	assert.Equal(t, "alice", data["fromConnId"])
	assert.Equal(t, "艾麗絲", data["fromName"])
}

// TestAcceptCreatesSymmetricDuel 測試接受邀請建立對稱決鬥
func TestAcceptCreatesSymmetricDuel(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(reqID, "bob", true))

	// 雙方都收到結果
	assert.Equal(t, 1, rec.count("alice", game.EvPKResponse))
	assert.Equal(t, 1, rec.count("bob", game.EvPKResponse))

	// 對手關係對稱
	assert.True(t, pk.InDuel("alice", "bob"))
	assert.True(t, pk.InDuel("bob", "alice"))
	assert.ElementsMatch(t, []string{"bob"}, pk.Opponents("alice"))
}

// TestDeclineNotifiesRequesterOnly 測試拒絕只通知發起方
func TestDeclineNotifiesRequesterOnly(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	rec.reset()
	require.NoError(t, pk.Respond(reqID, "bob", false))

	assert.Equal(t, 1, rec.count("alice", game.EvPKResponse))
	assert.Equal(t, 0, rec.count("bob", game.EvPKResponse))
	assert.False(t, pk.InDuel("alice", "bob"))

	ev, _ := rec.last("alice", game.EvPKResponse)
	data := ev.Data.(map[string]any)
	assert.Equal(t, false, data["accepted"])
}

// TestRespondByWrongConn 測試非被邀請方的回應被拒絕
func TestRespondByWrongConn(t *testing.T) {
	pk, _ := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")

	err := pk.Respond(reqID, "mallory", true)
	assert.ErrorIs(t, err, apperrors.ErrIdentityMismatch)

	// 邀請仍然有效，正主可以回應
	assert.NoError(t, pk.Respond(reqID, "bob", true))
}

// TestRespondUnknownRequest 測試回應不存在的邀請
func TestRespondUnknownRequest(t *testing.T) {
	pk, _ := newTestPK(t, time.Hour)

	err := pk.Respond("no-such-request", "bob", true)
	assert.ErrorIs(t, err, apperrors.ErrPKRequestNotFound)
}

// TestRequestExpires 測試邀請逾時
func TestRequestExpires(t *testing.T) {
	pk, rec := newTestPK(t, 50*time.Millisecond)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")

	// 發起方收到逾時通知
	require.Eventually(t, func() bool {
		return rec.count("alice", game.EvPKResponse) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev, _ := rec.last("alice", game.EvPKResponse)
	data := ev.Data.(map[string]any)
	assert.Equal(t, false, data["accepted"])
	assert.Equal(t, "timeout", data["reason"])

	// 過期後的回應被拒絕
	err := pk.Respond(reqID, "bob", true)
	assert.ErrorIs(t, err, apperrors.ErrPKRequestNotFound)
}

// TestEndNotifiesBothSides 測試結束決鬥通知雙方
func TestEndNotifiesBothSides(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(reqID, "bob", true))
	rec.reset()

	pk.End("alice", "bob", "reported")

	assert.Equal(t, 1, rec.count("alice", game.EvPKEnded))
	assert.Equal(t, 1, rec.count("bob", game.EvPKEnded))
	assert.False(t, pk.InDuel("alice", "bob"))

	ev, _ := rec.last("bob", game.EvPKEnded)
	data := ev.Data.(map[string]any)
	assert.Equal(t, "alice", data["winner"])
	assert.Equal(t, "bob", data["loser"])
}

// TestEndIsIdempotent 測試重複結束不產生二次通知
func TestEndIsIdempotent(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(reqID, "bob", true))
	rec.reset()

	pk.End("alice", "bob", "reported")
	pk.End("bob", "alice", "reported")

	assert.Equal(t, 1, rec.count("alice", game.EvPKEnded))
	assert.Equal(t, 1, rec.count("bob", game.EvPKEnded))
}

// TestDisconnectForfeitsAllDuels 測試斷線在所有決鬥中判負
func TestDisconnectForfeitsAllDuels(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	// alice 同時與 bob、carol 決鬥
	req1 := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(req1, "bob", true))
	req2 := pk.SendRequest("alice", "艾麗絲", "carol")
	require.NoError(t, pk.Respond(req2, "carol", true))
	rec.reset()

	pk.HandleDisconnect("alice")

	// 兩個對手都獲勝
	for _, winner := range []string{"bob", "carol"} {
		ev, ok := rec.last(winner, game.EvPKEnded)
		require.True(t, ok, "%s 應收到結束通知", winner)
		data := ev.Data.(map[string]any)
		assert.Equal(t, winner, data["winner"])
		assert.Equal(t, "alice", data["loser"])
		assert.Equal(t, "disconnect", data["reason"])
	}

	assert.Empty(t, pk.Opponents("alice"))
	assert.Empty(t, pk.Opponents("bob"))
}

// TestDisconnectClearsPendingRequests 測試斷線清除待決邀請
func TestDisconnectClearsPendingRequests(t *testing.T) {
	pk, _ := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	pk.HandleDisconnect("alice")

	err := pk.Respond(reqID, "bob", true)
	assert.ErrorIs(t, err, apperrors.ErrPKRequestNotFound)
}

// TestMapChangeForfeits 測試換圖視同棄權
func TestMapChangeForfeits(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(reqID, "bob", true))
	rec.reset()

	pk.HandleMapChange("bob")

	ev, ok := rec.last("alice", game.EvPKEnded)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	assert.Equal(t, "alice", data["winner"], "留在原地圖的一方獲勝")
	assert.Equal(t, "left_map", data["reason"])
}

// TestDeathForfeits 測試死亡判負
func TestDeathForfeits(t *testing.T) {
	pk, rec := newTestPK(t, time.Hour)

	reqID := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(reqID, "bob", true))
	rec.reset()

	pk.HandleDeath("alice")

	ev, ok := rec.last("bob", game.EvPKEnded)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	assert.Equal(t, "bob", data["winner"])
	assert.Equal(t, "death", data["reason"])
	assert.False(t, pk.InDuel("alice", "bob"))
}

// TestStatsCountsDuelsAndPending 測試決鬥統計
func TestStatsCountsDuelsAndPending(t *testing.T) {
	pk, _ := newTestPK(t, time.Hour)

	req1 := pk.SendRequest("alice", "艾麗絲", "bob")
	require.NoError(t, pk.Respond(req1, "bob", true))
	pk.SendRequest("carol", "卡蘿", "dave")

	stats := pk.Stats()
	assert.Equal(t, 1, stats["active_duels"])
	assert.Equal(t, 1, stats["pending_requests"])
}
