package game

// 即時訊息通道的事件名稱。
// 訊息格式為 {"event": 名稱, "data": 載荷}，無嚴格的信封版本控制。

// 入站事件
const (
	EvValidateSession  = "validate_session"
	EvJoinChannel      = "join_channel"
	EvPlayerMove       = "player_move"
	EvRequestMonsters  = "request_monsters"
	EvAttackMonster    = "attack_monster"
	EvPickupGold       = "pickup_gold"
	EvMonsterAttack    = "monster_attack"
	EvSendPKRequest    = "send_pk_request"
	EvPKResponse       = "pk_request_response"
	EvPKForfeit        = "pk_forfeit"
	EvPKEnded          = "pk_ended"
	EvUseSkill         = "use_skill"
	EvTakeDamage       = "take_damage"
	EvPlayerDeath      = "player_death"
	EvUpdateHP         = "update_hp"
	EvSendChat         = "send_chat"
	EvLoadChatHistory  = "load_chat_history"
	EvSendFriendReq    = "send_friend_request"
	EvFriendReqRespond = "friend_request_response"
)

// 出站事件
const (
	EvSessionValidated = "session_validated"
	EvSessionReplaced  = "session_replaced"
	EvChannelJoined    = "channel_joined"
	EvChannelFull      = "channel_full"
	EvPlayerJoined     = "player_joined"
	EvPlayerMoved      = "player_moved"
	EvPlayerLeft       = "player_left"
	EvMonstersData     = "monsters_data"
	EvMonsterUpdated   = "monster_updated"
	EvMonsterDied      = "monster_died"
	EvMonsterRespawned = "monster_respawned"
	EvGoldReceived     = "gold_received"
	EvGoldPickedUp     = "gold_picked_up"
	EvMonsterAttacked  = "monster_attacked_player"
	EvPKRequest        = "pk_request"
	EvSkillUsed        = "skill_used"
	EvPlayerDamaged    = "player_damaged"
	EvPlayerDied       = "player_died"
	EvPlayerHPUpdated  = "player_hp_updated"
	EvChatMessage      = "chat_message"
	EvChatHistory      = "chat_history"
	EvFriendRequest    = "friend_request"
	EvFriendReqResult  = "friend_request_response"
	EvFriendReqError   = "friend_request_error"
	EvError            = "error"
)

// EventSender 將事件送往指定連線
//
// 由閘道層（websocket hub）實現。遊戲組件只透過這個介面對外發送，
// 不直接持有連線；發送是即發即忘的，慢速接收方由閘道層處理。
type EventSender interface {
	// Send 向單一連線發送事件
	Send(connID, event string, data any)
	// CloseConn 強制關閉連線（附帶原因，用於會話替換）
	CloseConn(connID, reason string)
}
