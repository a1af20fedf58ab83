package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BuuCoder/TuTien2D-sub000/internal/config"
	"github.com/BuuCoder/TuTien2D-sub000/internal/game"
	"github.com/BuuCoder/TuTien2D-sub000/internal/gateway"
	"github.com/BuuCoder/TuTien2D-sub000/internal/limiter"
	"github.com/BuuCoder/TuTien2D-sub000/internal/social"
	"github.com/BuuCoder/TuTien2D-sub000/internal/storage"
	"github.com/BuuCoder/TuTien2D-sub000/internal/storage/migrations"
	"github.com/BuuCoder/TuTien2D-sub000/internal/validator"
	"github.com/BuuCoder/TuTien2D-sub000/pkg/timewheel"
)

func main() {
	// 解析命令行參數
	var (
		port       = flag.Int("port", 0, "服務器端口（0 表示使用配置檔）")
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
		devMode    = flag.Bool("dev", false, "開發模式（使用記憶體儲存，不連資料庫）")
	)
	flag.Parse()

	// 載入配置（命令行參數優先於配置檔）
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	// 持久層：開發模式用記憶體；否則連 PostgreSQL，Redis 作聊天歷史快取
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, chats, err := setupStorage(ctx, cfg, *devMode, logger)
	cancel()
	if err != nil {
		logger.Error("初始化儲存失敗", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 時間輪：怪物重生、PK 邀請逾時、仇恨攻擊節奏共用一個輪
	wheel := timewheel.New(60, 100*time.Millisecond)
	wheel.Start()

	// 限流器
	rules := make(map[string]limiter.Rule, len(cfg.RateLimit))
	for action, r := range cfg.RateLimit {
		rules[action] = limiter.Rule{Limit: r.Limit, Window: r.Window, Block: r.Block}
	}
	limits := limiter.New(rules, logger)

	// 反作弊校驗參數
	checks := validator.Rules{
		MaxSpeed:       cfg.AntiCheat.MaxSpeed,
		Tolerance:      cfg.AntiCheat.Tolerance,
		DamageBase:     cfg.AntiCheat.DamageBase,
		DamagePerLevel: cfg.AntiCheat.DamagePerLevel,
		MaxLootGold:    cfg.AntiCheat.MaxLootGold,
		MaxChatLength:  cfg.AntiCheat.MaxChatLength,
		MaxSkillRange:  cfg.AntiCheat.MaxSkillRange,
	}

	// 閘道與遊戲組件
	hub := gateway.NewHub(logger)
	sessions := game.NewSessionRegistry(hub, logger)
	channels := game.NewChannelManager(cfg.Game.ChannelCount, cfg.Game.MaxPlayersPerChannel, checks, hub, logger)
	monsters := game.NewMonsterSupervisor(cfg.Monsters, channels, hub, wheel,
		cfg.Game.RespawnDelay, cfg.Game.MonsterAttackInterval, logger)
	pk := game.NewPKManager(cfg.Game.PKRequestTTL, hub, wheel, logger)
	combat := game.NewCombatCoordinator(channels, monsters, pk, checks, hub, logger)
	relay := social.NewRelay(channels, sessions, chats, store, checks,
		cfg.Game.ChatHistoryLimit, hub, logger)

	// 移動掛鉤：換圖裁定 PK 棄權，移動觸發怪物仇恨
	channels.OnMapChange = func(connID, oldMap, newMap string) {
		pk.HandleMapChange(connID)
		monsters.OnPlayerLeft(connID)
	}
	channels.OnMove = monsters.OnPlayerMoved

	dispatcher := gateway.NewDispatcher(hub, sessions, channels, monsters, pk, combat, relay, limits, game.AcceptTokens{}, logger)
	hub.SetHandler(dispatcher)

	httpServer := gateway.NewServer(hub, sessions, channels, monsters, pk, limits, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpServer.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("遊戲協調伺服器啟動",
			"port", cfg.Server.Port,
			"channels", cfg.Game.ChannelCount,
			"capacity", cfg.Game.MaxPlayersPerChannel,
			"dev_mode", *devMode)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	hub.Stop()
	monsters.Stop()
	wheel.Stop()
	limits.Stop()
	relay.Wait()

	logger.Info("服務器已關閉")
}

// setupStorage 初始化持久層
//
// 返回完整儲存（好友關係等）與聊天儲存（可能帶 Redis 快取層）。
// Redis 不可用只降級聊天快取，不影響啟動。
func setupStorage(ctx context.Context, cfg *config.Config, devMode bool, logger *slog.Logger) (storage.Store, storage.ChatStore, error) {
	if devMode {
		logger.Info("開發模式：使用記憶體儲存")
		mem := storage.NewMemoryStore()
		return mem, mem, nil
	}

	// 先套用資料庫遷移
	migrator, err := migrations.New(cfg.PostgresURL(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("建立遷移器失敗: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, fmt.Errorf("資料庫遷移失敗: %w", err)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("關閉遷移器失敗", "error", err)
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN(), logger)
	if err != nil {
		return nil, nil, err
	}

	var chats storage.ChatStore = pg
	redisClient, err := storage.NewRedisClient(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis 不可用，聊天歷史不走快取", "error", err)
	} else {
		chats = storage.NewCachedChatStore(pg, redisClient, cfg.Game.ChatHistoryLimit, logger)
	}

	return pg, chats, nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
