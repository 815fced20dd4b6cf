package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"battleserver/models"

	"github.com/caarlos0/env/v11"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	maxRetries    = 3               // 最大再試行回数
	retryInterval = 5 * time.Second // 再試行間の待機時間
)

// LoadConfig は既定値に config.json を重ね、さらに環境変数で上書きする。
// ファイルが存在しない場合は既定値と環境変数だけを使う
func LoadConfig(filename string) (models.Config, error) {
	config := models.DefaultConfig()

	configFile, err := os.Open(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config, err
	default:
		defer configFile.Close()
		if err := json.NewDecoder(configFile).Decode(&config); err != nil {
			return config, fmt.Errorf("decode %s: %w", filename, err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	var err error
	for i := 0; i <= maxRetries; i++ {
		var gormDB *gorm.DB
		gormDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			return gormDB, nil
		}
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
}

// Migrate は対戦記録のテーブルを作成・更新する
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.BattleRecord{}, &models.BattleParticipant{})
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// Redisへの接続テスト
	var err error
	for i := 0; i <= maxRetries; i++ {
		if _, err = rdb.Ping(context.Background()).Result(); err == nil {
			logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
			return rdb, nil
		}
		logger.Error("Failed to connect to Redis", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	rdb.Close()
	return nil, fmt.Errorf("redis connection failed: %w", err)
}
