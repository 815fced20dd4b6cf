package utils

import (
	"context"
	"time"

	"battleserver/internal/room"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger は保存期間を過ぎた対戦記録を削除する
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type StatsSource interface {
	Stats() room.Stats
}

// CronJobs registers the housekeeping jobs and starts the scheduler. purger
// may be nil when the battle archive is disabled. Call Stop on shutdown.
func CronJobs(purger Purger, retention time.Duration, stats StatsSource, logger *zap.Logger) (*cron.Cron, error) {
	logger = logger.Named("cron")
	c := cron.New()

	if purger != nil {
		// 保存期間を過ぎた対戦記録を削除するジョブ（毎日）
		if _, err := c.AddFunc("@daily", PurgeJob(purger, retention, logger)); err != nil {
			return nil, err
		}
	}

	// 部屋の状況を定期的に記録するジョブ
	if _, err := c.AddFunc("@every 1m", StatsJob(stats, logger)); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

func PurgeJob(purger Purger, retention time.Duration, logger *zap.Logger) func() {
	return func() {
		logger.Info("古い対戦記録を削除する処理を開始")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		deleted, err := purger.Purge(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("対戦記録の削除に失敗しました", zap.Error(err))
			return
		}
		logger.Info("対戦記録の削除完了", zap.Int64("records_deleted", deleted))
	}
}

func StatsJob(stats StatsSource, logger *zap.Logger) func() {
	return func() {
		st := stats.Stats()
		logger.Info("room stats",
			zap.Int("rooms", st.Rooms),
			zap.Int("waiting", st.Waiting),
			zap.Int("started", st.Started),
			zap.Int("players", st.Players),
		)
	}
}
