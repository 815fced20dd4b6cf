package database

import (
	"context"
	"fmt"
	"time"

	"battleserver/internal/room"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RoomDirectory publishes live rooms to Redis as hashes under room:<id>.
type RoomDirectory struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRoomDirectory(rdb *redis.Client, logger *zap.Logger) *RoomDirectory {
	return &RoomDirectory{rdb: rdb, logger: logger.Named("directory")}
}

func roomKey(id int32) string {
	return fmt.Sprintf("room:%d", id)
}

func roomFields(s room.Summary) map[string]interface{} {
	return map[string]interface{}{
		"map_id":      s.MapID,
		"width":       s.Width,
		"height":      s.Height,
		"phase":       s.Phase,
		"players":     s.Alive + s.Died,
		"max_players": s.MaxPlayers,
		"observers":   s.Observers,
		"created_at":  s.CreatedAt.Unix(),
	}
}

// Publish はハッシュを書き込み、有効期限を設定する
func (d *RoomDirectory) Publish(ctx context.Context, s room.Summary, ttl time.Duration) error {
	key := roomKey(s.ID)
	pipe := d.rdb.TxPipeline()
	pipe.HSet(ctx, key, roomFields(s))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	d.logger.Debug("Room published", zap.String("key", key), zap.String("phase", s.Phase))
	return nil
}

func (d *RoomDirectory) Remove(ctx context.Context, roomID int32) error {
	if err := d.rdb.Del(ctx, roomKey(roomID)).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", roomKey(roomID), err)
	}
	return nil
}
