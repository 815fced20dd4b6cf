package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"battleserver/internal/room"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthHandler は認証なしで稼働状況を返す
func HealthHandler(c *gin.Context, manager *room.Manager) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  manager.Stats().Rooms,
	})
}

// RoomsHandler lists every live room ordered by id.
func RoomsHandler(c *gin.Context, manager *room.Manager, logger *zap.Logger) {
	rooms := manager.Rooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"stats": manager.Stats(),
	})
}

func RoomInfoHandler(c *gin.Context, manager *room.Manager, logger *zap.Logger) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	r, err := manager.Room(int32(id))
	if err != nil {
		logger.Info("Room not found", zap.Int64("roomID", id))
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, r.Summary())
}
