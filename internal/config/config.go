// Package config 提供伺服器的 YAML 配置
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Game GameConfig `yaml:"game"`

	// RateLimit 每個動作類型的限流規則（配置資料，不是程式碼）
	RateLimit map[string]RateLimitRule `yaml:"rate_limit"`

	AntiCheat AntiCheatConfig `yaml:"anti_cheat"`

	// Monsters 地圖怪物配置（模板 + 位置）
	Monsters []MonsterConfig `yaml:"monsters"`
}

// GameConfig 遊戲協調相關配置
type GameConfig struct {
	// ChannelCount 固定頻道數量（頻道編號 1..ChannelCount）
	ChannelCount int `yaml:"channel_count"`
	// MaxPlayersPerChannel 單一頻道玩家上限
	MaxPlayersPerChannel int `yaml:"max_players_per_channel"`
	// RespawnDelay 怪物死亡後的重生延遲
	RespawnDelay time.Duration `yaml:"respawn_delay"`
	// PKRequestTTL PK 邀請的有效時間
	PKRequestTTL time.Duration `yaml:"pk_request_ttl"`
	// MonsterAttackInterval 怪物仇恨狀態下的攻擊節奏
	MonsterAttackInterval time.Duration `yaml:"monster_attack_interval"`
	// ChatHistoryLimit 聊天歷史查詢上限
	ChatHistoryLimit int `yaml:"chat_history_limit"`
}

// RateLimitRule 單一動作的限流規則
type RateLimitRule struct {
	// Limit 視窗內允許的最大次數
	Limit int `yaml:"limit"`
	// Window 滑動視窗大小
	Window time.Duration `yaml:"window"`
	// Block 超限後的封鎖時間（0 表示僅拒絕當次，不封鎖）
	Block time.Duration `yaml:"block"`
}

// AntiCheatConfig 反作弊校驗參數
type AntiCheatConfig struct {
	// MaxSpeed 每秒最大移動距離（遊戲座標單位）
	MaxSpeed float64 `yaml:"max_speed"`
	// Tolerance 位移校驗的容差倍率（網路抖動餘量）
	Tolerance float64 `yaml:"tolerance"`
	// DamagePerLevel 每等級允許的傷害上限係數
	DamagePerLevel int `yaml:"damage_per_level"`
	// DamageBase 傷害上限的基礎值
	DamageBase int `yaml:"damage_base"`
	// MaxLootGold 單次拾取金幣的合理上限
	MaxLootGold int `yaml:"max_loot_gold"`
	// MaxChatLength 聊天訊息長度上限
	MaxChatLength int `yaml:"max_chat_length"`
	// MaxSkillRange 技能目標點距施放者的最大距離
	MaxSkillRange float64 `yaml:"max_skill_range"`
}

// MonsterConfig 怪物模板與出生點
type MonsterConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Level       int     `yaml:"level"`
	MaxHP       int     `yaml:"max_hp"`
	Attack      int     `yaml:"attack"`
	Defense     int     `yaml:"defense"`
	GoldDrop    int     `yaml:"gold_drop"`
	ExpDrop     int     `yaml:"exp_drop"`
	AggroRange  float64 `yaml:"aggro_range"`
	AttackRange float64 `yaml:"attack_range"`
	MapID       string  `yaml:"map_id"`
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
}

// Default 返回預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.Password = "postgres"
	cfg.Postgres.DBName = "tutien"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.Game.ChannelCount = 3
	cfg.Game.MaxPlayersPerChannel = 50
	cfg.Game.RespawnDelay = 30 * time.Second
	cfg.Game.PKRequestTTL = 10 * time.Second
	cfg.Game.MonsterAttackInterval = 2 * time.Second
	cfg.Game.ChatHistoryLimit = 50

	// 限流表：移動高頻短視窗，社交動作低頻長封鎖
	cfg.RateLimit = map[string]RateLimitRule{
		"player_move":         {Limit: 30, Window: time.Second, Block: 5 * time.Second},
		"use_skill":           {Limit: 5, Window: time.Second, Block: 10 * time.Second},
		"attack_monster":      {Limit: 8, Window: time.Second, Block: 10 * time.Second},
		"send_chat":           {Limit: 5, Window: 10 * time.Second, Block: 30 * time.Second},
		"send_pk_request":     {Limit: 2, Window: 30 * time.Second, Block: time.Minute},
		"send_friend_request": {Limit: 3, Window: time.Minute, Block: 2 * time.Minute},
	}

	cfg.AntiCheat.MaxSpeed = 240
	cfg.AntiCheat.Tolerance = 1.5
	cfg.AntiCheat.DamagePerLevel = 20
	cfg.AntiCheat.DamageBase = 50
	cfg.AntiCheat.MaxLootGold = 10000
	cfg.AntiCheat.MaxChatLength = 200
	cfg.AntiCheat.MaxSkillRange = 500

	cfg.Monsters = []MonsterConfig{
		{ID: "wolf-thanh-van-1", Name: "妖狼", Level: 3, MaxHP: 60, Attack: 12, Defense: 2,
			GoldDrop: 25, ExpDrop: 15, AggroRange: 120, AttackRange: 40,
			MapID: "thanh-van-mon", X: 400, Y: 300},
		{ID: "wolf-thanh-van-2", Name: "妖狼", Level: 3, MaxHP: 60, Attack: 12, Defense: 2,
			GoldDrop: 25, ExpDrop: 15, AggroRange: 120, AttackRange: 40,
			MapID: "thanh-van-mon", X: 650, Y: 420},
		{ID: "boar-thanh-van-1", Name: "鐵背野豬", Level: 5, MaxHP: 120, Attack: 18, Defense: 5,
			GoldDrop: 60, ExpDrop: 35, AggroRange: 100, AttackRange: 50,
			MapID: "thanh-van-mon", X: 900, Y: 250},
	}

	return cfg
}

// Load 從檔案載入配置（檔案不存在時返回預設值）
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - 路徑來自啟動參數
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 基本合法性檢查
func (c *Config) validate() error {
	if c.Game.ChannelCount < 1 {
		return fmt.Errorf("頻道數量必須至少為 1")
	}
	if c.Game.MaxPlayersPerChannel < 1 {
		return fmt.Errorf("頻道容量必須至少為 1")
	}
	for name, rule := range c.RateLimit {
		if rule.Limit < 1 || rule.Window <= 0 {
			return fmt.Errorf("限流規則 %s 無效", name)
		}
	}
	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}

// PostgresURL 生成 URL 形式的連線字串（遷移工具使用）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}

// RedisAddr 返回 Redis 位址（支援環境變數覆蓋）
func (c *Config) RedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return c.Redis.Addr
}
