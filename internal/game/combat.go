package game

import (
	"log/slog"

	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/apperrors"
)

// CombatCoordinator 戰鬥協調器
//
// 把技能、傷害、死亡事件串接到頻道廣播、怪物監督器與決鬥管理器。
// 伺服器不模擬戰鬥：傷害數值由客戶端上報，這裡只做邊界校驗
// （宣稱者身份、等級傷害上限）後轉發給正確的接收方。
type CombatCoordinator struct {
	channels *ChannelManager
	monsters *MonsterSupervisor
	pk       *PKManager
	rules    validator.Rules
	sender   EventSender
	logger   *slog.Logger
}

// NewCombatCoordinator 創建戰鬥協調器
func NewCombatCoordinator(
	channels *ChannelManager,
	monsters *MonsterSupervisor,
	pk *PKManager,
	rules validator.Rules,
	sender EventSender,
	logger *slog.Logger,
) *CombatCoordinator {
	return &CombatCoordinator{
		channels: channels,
		monsters: monsters,
		pk:       pk,
		rules:    rules,
		sender:   sender,
		logger:   logger,
	}
}

// UseSkill 向頻道內其他玩家廣播技能施放（純視覺複製，無傷害結算）
//
// 目標座標會被頻道內其他客戶端採信渲染，轉發前先做範圍校驗。
func (c *CombatCoordinator) UseSkill(connID, skillID string, targetX, targetY float64) error {
	state, _, ok := c.channels.Get(connID)
	if !ok {
		return apperrors.ErrNotInChannel
	}

	if v := c.rules.CheckSkillTarget(state.X, state.Y, targetX, targetY); !v.OK {
		c.logger.Warn("技能目標校驗未通過",
			"conn_id", connID,
			"skill_id", skillID,
			"reason", v.Reason)
		return apperrors.New(apperrors.ErrCodeInvalidInput, "invalid skill target").WithDetails(v.Reason)
	}

	c.channels.BroadcastChannel(connID, true, EvSkillUsed, map[string]any{
		"connectionId": connID,
		"skillId":      skillID,
		"x":            targetX,
		"y":            targetY,
		"mapId":        state.MapID,
	})
	return nil
}

// AttackMonster 玩家攻擊怪物
//
// 傷害先經過等級上限校驗，超界的宣稱直接拒絕並記錄，
// 通過後交給怪物監督器結算。
func (c *CombatCoordinator) AttackMonster(connID, monsterID string, damage, attackerLevel int) error {
	if v := c.rules.CheckDamage(damage, attackerLevel); !v.OK {
		c.logger.Warn("傷害宣稱超出上限",
			"conn_id", connID,
			"monster_id", monsterID,
			"damage", damage,
			"level", attackerLevel,
			"reason", v.Reason)
		return apperrors.New(apperrors.ErrCodeInvalidInput, "damage exceeds limit").WithDetails(v.Reason)
	}

	c.monsters.Attack(monsterID, damage, connID)
	return nil
}

// RelayDamage 轉發玩家對玩家的傷害
//
// 宣稱的攻擊者必須是發送連線本身；冒名宣稱記錄警告並拒絕。
// 傷害事件只送達受擊目標，不做頻道廣播。
func (c *CombatCoordinator) RelayDamage(senderConn, claimedAttacker, targetConn string, damage, attackerLevel int) error {
	if claimedAttacker != "" && claimedAttacker != senderConn {
		c.logger.Warn("傷害宣稱者身份不符",
			"sender", senderConn,
			"claimed", claimedAttacker)
		return apperrors.ErrIdentityMismatch
	}

	if v := c.rules.CheckDamage(damage, attackerLevel); !v.OK {
		c.logger.Warn("傷害宣稱超出上限",
			"sender", senderConn,
			"damage", damage,
			"level", attackerLevel,
			"reason", v.Reason)
		return apperrors.New(apperrors.ErrCodeInvalidInput, "damage exceeds limit").WithDetails(v.Reason)
	}

	c.sender.Send(targetConn, EvPlayerDamaged, map[string]any{
		"attackerId": senderConn,
		"damage":     damage,
	})
	return nil
}

// UpdateHP 更新玩家血量並向頻道廣播
func (c *CombatCoordinator) UpdateHP(connID string, hp, maxHP int) error {
	return c.channels.UpdateHP(connID, hp, maxHP)
}

// PlayerDeath 玩家死亡
//
// 向頻道廣播死亡事件，並把死亡交給決鬥管理器裁定
// （死者在所有進行中的決鬥中落敗）。
func (c *CombatCoordinator) PlayerDeath(connID, killerConnID string) {
	c.channels.BroadcastChannel(connID, false, EvPlayerDied, map[string]any{
		"connectionId": connID,
		"killerId":     killerConnID,
	})
	c.pk.HandleDeath(connID)
}
