package database

import (
	"context"
	"fmt"
	"time"

	"battleserver/internal/room"
	"battleserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BattleArchive stores finished rooms in PostgreSQL.
type BattleArchive struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewBattleArchive(db *gorm.DB, logger *zap.Logger) *BattleArchive {
	return &BattleArchive{db: db, logger: logger.Named("archive")}
}

func newBattleRecord(result room.Result) models.BattleRecord {
	record := models.BattleRecord{
		RoomID:     result.RoomID,
		MapID:      result.MapID,
		Reason:     string(result.Reason),
		FinishedAt: result.FinishedAt,
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		record.StartedAt = &started
		record.DurationMS = result.FinishedAt.Sub(started).Milliseconds()
	}
	for _, p := range result.Players {
		if p.Win {
			record.Winners++
		} else {
			record.Losers++
		}
		record.Participants = append(record.Participants, models.BattleParticipant{
			SessionID:    p.SessionID,
			Color:        p.Color,
			Win:          p.Win,
			AliveMarines: p.Alive,
			DiedMarines:  p.Died,
		})
	}
	return record
}

// RecordBattle は対戦結果と参加者を1つのトランザクションで保存する
func (a *BattleArchive) RecordBattle(ctx context.Context, result room.Result) error {
	record := newBattleRecord(result)
	participants := record.Participants
	record.Participants = nil

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(participants) == 0 {
			return nil
		}
		for i := range participants {
			participants[i].BattleRecordID = record.ID
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		return fmt.Errorf("record battle %d: %w", result.RoomID, err)
	}
	a.logger.Info("Battle recorded", zap.Int32("roomID", result.RoomID), zap.Uint("recordID", record.ID))
	return nil
}

// ListBattles returns the latest records, newest first.
func (a *BattleArchive) ListBattles(ctx context.Context, limit int) ([]models.BattleRecord, error) {
	var records []models.BattleRecord
	err := a.db.WithContext(ctx).
		Preload("Participants").
		Order("finished_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Purge deletes records finished before cutoff and returns how many were removed.
func (a *BattleArchive) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.BattleRecord{}).
			Where("finished_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Unscoped().Where("battle_record_id IN ?", ids).Delete(&models.BattleParticipant{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Where("id IN ?", ids).Delete(&models.BattleRecord{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
