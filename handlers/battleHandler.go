package handlers

import (
	"context"
	"net/http"
	"strconv"

	"battleserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultBattleLimit = 20
	maxBattleLimit     = 100
)

// BattleLister reads the battle archive.
type BattleLister interface {
	ListBattles(ctx context.Context, limit int) ([]models.BattleRecord, error)
}

// BattlesHandler は最新の対戦記録を返す。アーカイブが無効なら 503
func BattlesHandler(c *gin.Context, archive BattleLister, logger *zap.Logger) {
	if archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "battle archive is disabled"})
		return
	}

	limit := defaultBattleLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxBattleLimit)
	}

	records, err := archive.ListBattles(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list battles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list battles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"battles": records})
}
