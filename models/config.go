package models

import (
	"fmt"
	"strconv"
	"time"

	"battleserver/internal/marine"
	"battleserver/internal/room"
	"battleserver/internal/session"
	"battleserver/internal/terrain"
)

// MapSize はマップの大きさ
type MapSize struct {
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Config はサーバー全体の設定。config.json を読み込んだ後、環境変数で上書きする
type Config struct {
	ObserverAddr string `json:"observer_addr" env:"OBSERVER_ADDR"`
	PlayerAddr   string `json:"player_addr" env:"PLAYER_ADDR"`
	AdminAddr    string `json:"admin_addr" env:"ADMIN_ADDR"`
	LogLevel     string `json:"log_level" env:"LOG_LEVEL"`
	MaxFrameSize int    `json:"max_frame_size" env:"MAX_FRAME_SIZE"`

	MaxPlayers       int `json:"max_players" env:"MAX_PLAYERS"`
	MaxSeconds       int `json:"max_seconds" env:"MAX_SECONDS"`
	MarinesPerPlayer int `json:"marines_per_player" env:"MARINES_PER_PLAYER"`
	DrainTimeoutMS   int `json:"drain_timeout_ms" env:"DRAIN_TIMEOUT_MS"`
	SettleDelayMS    int `json:"settle_delay_ms" env:"SETTLE_DELAY_MS"`

	// Maps のキーは map id (JSON のキーは文字列になる)
	Maps       map[string]MapSize `json:"maps"`
	DefaultMap MapSize            `json:"default_map"`

	DBHost         string `json:"db_host" env:"DB_HOST"`
	DBUser         string `json:"db_user" env:"DB_USER"`
	DBPassword     string `json:"db_password" env:"DB_PASSWORD"`
	DBName         string `json:"db_name" env:"DB_NAME"`
	DBSSLMode      string `json:"db_sslmode" env:"DB_SSLMODE"`
	RetentionHours int    `json:"retention_hours" env:"RETENTION_HOURS"`

	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB"`

	JWTSecret    string   `json:"jwt_secret" env:"JWT_SECRET"`
	AllowOrigins []string `json:"allow_origins" env:"ALLOW_ORIGINS" envSeparator:","`
}

// DefaultConfig returns the configuration used when config.json is absent.
func DefaultConfig() Config {
	return Config{
		ObserverAddr:     ":11011",
		PlayerAddr:       ":11012",
		AdminAddr:        ":8080",
		LogLevel:         "info",
		MaxPlayers:       2,
		MaxSeconds:       600,
		MarinesPerPlayer: 2,
		DrainTimeoutMS:   100,
		SettleDelayMS:    10,
		DefaultMap:       MapSize{Width: 256, Height: 256},
		DBSSLMode:        "disable",
		RetentionHours:   168,
		AllowOrigins:     []string{"*"},
	}
}

// Validate rejects room settings that would make every room unusable.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"max_players", c.MaxPlayers},
		{"max_seconds", c.MaxSeconds},
		{"marines_per_player", c.MarinesPerPlayer},
	}
	for _, v := range positive {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive: %d", v.name, v.value)
		}
	}
	if c.DrainTimeoutMS < 0 || c.SettleDelayMS < 0 {
		return fmt.Errorf("drain_timeout_ms and settle_delay_ms must not be negative")
	}
	return nil
}

func (c Config) RoomSettings() room.Settings {
	return room.Settings{
		MaxPlayers:       c.MaxPlayers,
		MaxDuration:      time.Duration(c.MaxSeconds) * time.Second,
		MarinesPerPlayer: c.MarinesPerPlayer,
		DrainTimeout:     time.Duration(c.DrainTimeoutMS) * time.Millisecond,
		SettleDelay:      time.Duration(c.SettleDelayMS) * time.Millisecond,
	}
}

func (c Config) SessionSettings() session.Settings {
	return session.Settings{
		ObserverAddr: c.ObserverAddr,
		PlayerAddr:   c.PlayerAddr,
		MaxFrameSize: c.MaxFrameSize,
	}
}

// Catalog builds the terrain catalog from Maps. Keys must be integers.
func (c Config) Catalog() (*terrain.Catalog, error) {
	sizes := make(map[int32]marine.Size, len(c.Maps))
	for key, s := range c.Maps {
		id, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("map id %q: %w", key, err)
		}
		sizes[int32(id)] = marine.Size{Width: s.Width, Height: s.Height}
	}
	fallback := marine.Size{Width: c.DefaultMap.Width, Height: c.DefaultMap.Height}
	return terrain.NewCatalog(sizes, fallback), nil
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ArchiveEnabled は db_host が設定されているときだけ真
func (c Config) ArchiveEnabled() bool {
	return c.DBHost != ""
}

func (c Config) DirectoryEnabled() bool {
	return c.RedisAddr != ""
}
