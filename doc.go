// Package tutien 提供了一個瀏覽器 MMO 的即時協調伺服器。
//
// 實現了多頻道、多玩家的遊戲狀態同步服務，包含以下核心功能：
//
// 會話與頻道
//
// 每個帳號同一時間只有一個有效會話：
//   - 新連線驗證後取代舊連線（舊連線收到通知並被關閉）
//   - 玩家分割到固定數量、固定容量的頻道
//   - 請求的頻道滿員時自動輪轉到下一個有空位的頻道
//   - 斷線觸發完整的清理級聯
//
// # 狀態複製
//
// 移動、技能、血量變更以事件形式在頻道內扇出：
//   - 移動增量採合併語義，省略的欄位保留舊值
//   - 單一發送者的更新保持發送順序
//   - 位移與傷害數值在採信前經過反作弊校驗
//
// 怪物與戰鬥
//
// 伺服器持有每張地圖怪物的權威狀態：
//   - 死亡 → 掉落（單次拾取）→ 定時重生的狀態機
//   - 重生與攻擊節奏由時間輪調度
//   - 玩家進入仇恨範圍時怪物自動交戰
//
// PK 決鬥
//
// 帶逾時的邀請、對稱的對手關係與伺服器裁定的勝負：
//   - 換圖或斷線視同棄權，離開方落敗
//   - 死亡由伺服器統一裁定，不信任客戶端申報
//
// 社交功能
//
// 聊天與好友請求走「先廣播、後持久化」：
//   - 訊息即時送達同頻道同地圖的玩家
//   - 持久化在背景進行，儲存故障不影響即時路徑
//   - 近期聊天歷史由 Redis 快取，PostgreSQL 為權威儲存
//
// 限流與防護
//
// 每個動作類型有獨立的滑動視窗限流規則：
//   - 超限觸發定時封鎖，封鎖期內一律拒絕
//   - 違規累計可疑度，越過門檻記錄升級訊號
//
// 配置選項
//
// 支援多種運行時配置：
//   - -port：服務監聽端口（預設 8080）
//   - -config：YAML 配置檔路徑
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//   - -dev：開發模式（記憶體儲存，不連資料庫）
//
// 架構設計
//
// 系統採用分層架構設計：
//   - Gateway 層：WebSocket 連線生命週期與事件分發
//   - Game 層：會話、頻道、怪物、決鬥與戰鬥協調
//   - Social 層：聊天與好友請求轉發
//   - Storage 層：PostgreSQL / Redis / 記憶體持久化
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
package tutien
