package main

import (
	"battleserver/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var logger *zap.Logger

func init() {
	// Zapのロガー設定
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
}

// backfillDurations は duration_ms が未設定の記録を started_at から埋める
func backfillDurations(db *gorm.DB) (int64, error) {
	res := db.Exec(`UPDATE battle_records
		SET duration_ms = CAST(EXTRACT(EPOCH FROM (finished_at - started_at)) * 1000 AS BIGINT)
		WHERE started_at IS NOT NULL AND duration_ms = 0 AND deleted_at IS NULL`)
	return res.RowsAffected, res.Error
}

func main() {
	defer logger.Sync() // ロガーの終了処理

	config, err := database.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Error reading config file", zap.Error(err))
	}
	if !config.ArchiveEnabled() {
		logger.Fatal("DB_HOST is not set")
	}

	gormDB, err := database.InitPostgreSQL(config, logger)
	if err != nil {
		logger.Fatal("データベースへの接続に失敗しました", zap.Error(err))
	}

	// データベース接続の取得
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal("Failed to get SQLDB", zap.Error(err))
	}
	defer sqlDB.Close()

	// マイグレーション実行
	if err := database.Migrate(gormDB); err != nil {
		logger.Fatal("Error migrating tables", zap.Error(err))
	}
	logger.Info("battle_records and battle_participants tables migrated")

	n, err := backfillDurations(gormDB)
	if err != nil {
		logger.Fatal("Error backfilling durations", zap.Error(err))
	}
	logger.Info("Backfilled battle durations", zap.Int64("rows", n))
}
