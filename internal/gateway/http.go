package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/internal/limiter"
)

// Server HTTP 入口：WebSocket 升級端點加上健康檢查與統計
type Server struct {
	hub      *Hub
	sessions *game.SessionRegistry
	channels *game.ChannelManager
	monsters *game.MonsterSupervisor
	pk       *game.PKManager
	limits   *limiter.ActionLimiter
	logger   *slog.Logger
}

// NewServer 創建 HTTP 入口
func NewServer(
	hub *Hub,
	sessions *game.SessionRegistry,
	channels *game.ChannelManager,
	monsters *game.MonsterSupervisor,
	pk *game.PKManager,
	limits *limiter.ActionLimiter,
	logger *slog.Logger,
) *Server {
	return &Server{
		hub:      hub,
		sessions: sessions,
		channels: channels,
		monsters: monsters,
		pk:       pk,
		limits:   limits,
		logger:   logger,
	}
}

// Routes 組裝路由
func (s *Server) Routes() http.Handler {
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return s.recoverer(s.loggerMiddleware(handler))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /health", wrap(s.health))
	mux.HandleFunc("GET /stats", wrap(s.stats))

	return mux
}

// health 健康檢查
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"connections": s.hub.Count(),
		"sessions":    s.sessions.Count(),
		"channels":    s.channels.Stats(),
		"monsters":    s.monsters.Stats(),
		"pk":          s.pk.Stats(),
		"rate_limit":  s.limits.Stats(),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// loggerMiddleware 日誌中間件
func (s *Server) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		s.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (s *Server) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				s.jsonResponse(w, map[string]any{
					"error": "內部伺服器錯誤",
				}, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
