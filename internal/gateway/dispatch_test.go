package gateway

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

// newRacedDispatcher 建立一個會話已被替換註冊移除的分發器場景：
// conn-old 通過了入口的會話檢查後，同帳號的 conn-new 完成註冊，
// conn-old 的會話在處理器執行前消失。
func newRacedDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	rules := validator.Rules{
		MaxSpeed: 240, Tolerance: 1.5,
		DamageBase: 50, DamagePerLevel: 20,
		MaxLootGold: 10000, MaxChatLength: 200,
		MaxSkillRange: 500,
	}

	wheel := timewheel.New(8, 10*time.Millisecond)
	wheel.Start()
	t.Cleanup(wheel.Stop)

	hub := NewHub(logger)
	sessions := game.NewSessionRegistry(hub, logger)
	channels := game.NewChannelManager(2, 10, rules, hub, logger)
	pk := game.NewPKManager(time.Hour, hub, wheel, logger)

	sessions.Register("acc-1", "conn-old", "甲")
	sessions.Register("acc-1", "conn-new", "甲")

	return &Dispatcher{
		hub:      hub,
		sessions: sessions,
		channels: channels,
		pk:       pk,
		tokens:   game.AcceptTokens{},
		logger:   logger,
	}
}

// TestJoinChannelAfterSessionReplaced 測試會話被替換後的加入請求不會崩潰
func TestJoinChannelAfterSessionReplaced(t *testing.T) {
	d := newRacedDispatcher(t)

	payload, err := json.Marshal(map[string]any{
		"channelId": 1, "mapId": "thanh-van-mon", "x": 100.0, "y": 100.0,
	})
	require.NoError(t, err)

	err = d.onJoinChannel("conn-old", payload)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

// TestSendPKRequestAfterSessionReplaced 測試會話被替換後的決鬥邀請不會崩潰
func TestSendPKRequestAfterSessionReplaced(t *testing.T) {
	d := newRacedDispatcher(t)

	payload, err := json.Marshal(map[string]any{"targetId": "conn-target"})
	require.NoError(t, err)

	err = d.onSendPKRequest("conn-old", payload)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
