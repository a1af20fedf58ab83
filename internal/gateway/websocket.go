// Package gateway 實現 WebSocket 閘道：連線生命週期、事件信封與入站分發
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 心跳參數：54 秒 Ping 配 60 秒讀取超時，
// 避開代理常見的 60 秒閒置閾值並留出傳輸餘量。
const (
	pingInterval  = 54 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

// Envelope 事件信封：{"event": 名稱, "data": 載荷}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageHandler 入站訊息處理器（由分發器實現）
type MessageHandler interface {
	// HandleMessage 處理一條入站訊息（在該連線的讀取 goroutine 上串行執行）
	HandleMessage(connID string, raw []byte)
	// HandleDisconnect 連線結束後的清理級聯
	HandleDisconnect(connID string)
}

// Hub WebSocket 連線中心
//
// 集中管理所有連線並實現遊戲組件的對外發送介面。
// 發送是異步的：訊息進入每連線的緩衝 channel，由 writePump 批量寫出；
// 緩衝滿表示接收方過慢，訊息被丟棄並記錄——慢客戶端不能拖慢廣播。
type Hub struct {
	conns    map[string]*Connection // connID -> Connection
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	handler  MessageHandler
	logger   *slog.Logger
}

// Connection 一條 WebSocket 連線
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
	closeOnce sync.Once // 確保 Send channel 只關閉一次
}

// NewHub 創建連線中心
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// SetHandler 設置入站訊息處理器（須在接受連線前呼叫）
func (hub *Hub) SetHandler(h MessageHandler) {
	hub.handler = h
}

// ServeWS 升級 HTTP 請求為 WebSocket 連線
//
// 每條連線獲得一個伺服器生成的 uuid 作為 connectionId，
// 並各自擁有一個讀 goroutine（串行處理該連線的入站訊息，
// 保證單一發送者的訊息順序）與一個寫 goroutine。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		hub:  hub,
	}

	hub.mu.Lock()
	hub.conns[c.ID] = c
	hub.mu.Unlock()

	go c.writePump()
	go c.readPump()

	hub.logger.Info("WebSocket 連線建立",
		"conn_id", c.ID,
		"remote", r.RemoteAddr)
}

// Send 向單一連線發送事件（實現遊戲組件的發送介面）
func (hub *Hub) Send(connID, event string, data any) {
	payload, err := json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	c, ok := hub.conns[connID]
	hub.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case c.Send <- payload:
	default:
		// 緩衝區滿：丟棄訊息，不阻塞發送方
		hub.logger.Warn("連線緩衝區滿，訊息丟棄",
			"conn_id", connID,
			"event", event)
	}
}

// CloseConn 強制關閉連線（會話替換等場景）
func (hub *Hub) CloseConn(connID, reason string) {
	hub.mu.RLock()
	c, ok := hub.conns[connID]
	hub.mu.RUnlock()
	if !ok {
		return
	}

	deadline := time.Now().Add(time.Second)
	_ = c.Conn.SetWriteDeadline(deadline)
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = c.Conn.Close()
}

// Count 返回在線連線數
func (hub *Hub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Stop 關閉所有連線
func (hub *Hub) Stop() {
	hub.mu.Lock()
	conns := make([]*Connection, 0, len(hub.conns))
	for _, c := range hub.conns {
		conns = append(conns, c)
	}
	hub.conns = make(map[string]*Connection)
	hub.mu.Unlock()

	for _, c := range conns {
		c.closeOnce.Do(func() { close(c.Send) })
		_ = c.Conn.Close()
	}

	hub.logger.Info("WebSocket 閘道已停止")
}

// unregister 移除連線並觸發清理級聯
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	current, ok := hub.conns[c.ID]
	if ok && current == c {
		delete(hub.conns, c.ID)
	}
	hub.mu.Unlock()

	if !ok {
		return
	}

	c.closeOnce.Do(func() { close(c.Send) })

	if hub.handler != nil {
		hub.handler.HandleDisconnect(c.ID)
	}

	hub.logger.Info("WebSocket 連線關閉", "conn_id", c.ID)
}

// readPump 讀取並分發入站訊息
//
// 讀取超時 60 秒，收到 Pong 時重置；超時或讀取錯誤即視為斷線。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"conn_id", c.ID,
					"error", err)
			}
			break
		}

		if messageType == websocket.TextMessage && c.hub.handler != nil {
			c.hub.handler.HandleMessage(c.ID, message)
		}
	}
}

// writePump 寫出訊息並維持心跳
//
// 每 54 秒發送一次 Ping；寫出時批量吸收佇列中的待發訊息，
// 減少系統呼叫次數。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Send channel 已關閉，通知客戶端後退出
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送佇列中的訊息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
