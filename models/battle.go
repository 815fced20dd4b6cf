package models

import (
	"time"

	"gorm.io/gorm"
)

// BattleRecord は終了した部屋の結果
type BattleRecord struct {
	gorm.Model
	RoomID       int32  `gorm:"index;not null"`
	MapID        int32  `gorm:"not null"`
	Reason       string `gorm:"not null"`
	StartedAt    *time.Time
	FinishedAt   time.Time           `gorm:"index;not null"`
	DurationMS   int64               `gorm:"not null;default:0"`
	Winners      int                 `gorm:"not null;default:0"`
	Losers       int                 `gorm:"not null;default:0"`
	Participants []BattleParticipant `gorm:"foreignKey:BattleRecordID"`
}

// プレイヤーごとの結果は別テーブルで管理
type BattleParticipant struct {
	gorm.Model
	BattleRecordID uint   `gorm:"index"`
	SessionID      string `gorm:"not null"`
	Color          int32
	Win            bool `gorm:"not null;default:false"`
	AliveMarines   int
	DiedMarines    int
}
