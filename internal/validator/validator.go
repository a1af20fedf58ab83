// Package validator 提供反作弊校驗
//
// 所有檢查都是純函數：輸入客戶端宣告的數值，輸出接受/拒絕的裁決與
// 人類可讀的原因，不產生任何副作用。它們是戰鬥協調器與社交轉發器
// 在採信客戶端數值之前的顧問性關卡；狀態變更由呼叫方決定。
package validator

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Verdict 校驗裁決
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// accept 通過
func accept() Verdict {
	return Verdict{OK: true}
}

// reject 拒絕並附上原因
func reject(format string, args ...any) Verdict {
	return Verdict{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Rules 校驗參數（來自配置，不是寫死的常數）
type Rules struct {
	// MaxSpeed 每秒最大移動距離
	MaxSpeed float64
	// Tolerance 位移容差倍率（吸收網路抖動與插值誤差）
	Tolerance float64
	// DamageBase / DamagePerLevel 傷害上限 = base + level * perLevel
	DamageBase     int
	DamagePerLevel int
	// MaxLootGold 單次拾取金幣上限
	MaxLootGold int
	// MaxChatLength 聊天長度上限
	MaxChatLength int
	// MaxSkillRange 技能目標點距施放者的最大距離
	MaxSkillRange float64
}

// CheckMovement 位移校驗（反瞬移）
//
// 拒絕條件：位移超過 maxSpeed × elapsed × tolerance。
// elapsed 不足 50ms 時以 50ms 計，避免連續封包把合法移動誤判為瞬移。
func (r Rules) CheckMovement(fromX, fromY, toX, toY float64, elapsed time.Duration) Verdict {
	if elapsed < 50*time.Millisecond {
		elapsed = 50 * time.Millisecond
	}

	dx := toX - fromX
	dy := toY - fromY
	displacement := math.Sqrt(dx*dx + dy*dy)

	allowed := r.MaxSpeed * elapsed.Seconds() * r.Tolerance
	if displacement > allowed {
		return reject("位移 %.1f 超過允許範圍 %.1f", displacement, allowed)
	}
	return accept()
}

// CheckSkillTarget 技能目標點校驗
//
// 技能複製只是視覺轉發，但目標座標仍會被頻道內其他客戶端採信渲染，
// 非有限值或離施放者過遠的目標點一律拒絕。
func (r Rules) CheckSkillTarget(casterX, casterY, targetX, targetY float64) Verdict {
	if math.IsNaN(targetX) || math.IsInf(targetX, 0) ||
		math.IsNaN(targetY) || math.IsInf(targetY, 0) {
		return reject("目標座標不是有限數值")
	}

	dx := targetX - casterX
	dy := targetY - casterY
	distance := math.Sqrt(dx*dx + dy*dy)
	if distance > r.MaxSkillRange {
		return reject("目標距離 %.1f 超過技能範圍 %.1f", distance, r.MaxSkillRange)
	}
	return accept()
}

// CheckDamage 傷害數值校驗
//
// 上限為攻擊者等級的線性函數；超出即視為不可信的客戶端宣告。
func (r Rules) CheckDamage(damage, attackerLevel int) Verdict {
	if damage < 0 {
		return reject("傷害不可為負數: %d", damage)
	}
	limit := r.DamageBase + attackerLevel*r.DamagePerLevel
	if damage > limit {
		return reject("傷害 %d 超過等級 %d 的上限 %d", damage, attackerLevel, limit)
	}
	return accept()
}

// CheckLootGold 拾取金額校驗
func (r Rules) CheckLootGold(amount int) Verdict {
	if amount <= 0 {
		return reject("金額必須為正數: %d", amount)
	}
	if amount > r.MaxLootGold {
		return reject("金額 %d 超過上限 %d", amount, r.MaxLootGold)
	}
	return accept()
}

// SanitizeChat 聊天訊息清洗
//
// 處理順序：
//  1. 去除控制字元與標記字元（防 HTML/腳本注入）
//  2. 截斷至長度上限
//  3. 垃圾訊息啟發式：非字母數字字元佔比過半則拒絕
//
// 返回清洗後的訊息與裁決；拒絕時清洗結果不可使用。
func (r Rules) SanitizeChat(message string) (string, Verdict) {
	var b strings.Builder
	for _, ch := range message {
		if unicode.IsControl(ch) {
			continue
		}
		switch ch {
		case '<', '>', '&':
			continue
		}
		b.WriteRune(ch)
	}

	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return "", reject("訊息內容為空")
	}

	runes := []rune(cleaned)
	if len(runes) > r.MaxChatLength {
		runes = runes[:r.MaxChatLength]
		cleaned = string(runes)
	}

	// 垃圾訊息啟發式：符號佔比過高（如 "@@@@####"）
	var symbolic int
	for _, ch := range runes {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && !unicode.IsSpace(ch) {
			symbolic++
		}
	}
	if symbolic*2 > len(runes) {
		return "", reject("訊息以符號為主，疑似垃圾內容")
	}

	return cleaned, accept()
}
