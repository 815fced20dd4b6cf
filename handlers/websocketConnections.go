package handlers

import (
	"context"
	"net/http"

	"battleserver/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// HandleConnections upgrades the request and runs a player session on it until
// the session ends. ctx bounds the session instead of the request context.
func HandleConnections(ctx context.Context, c *gin.Context, server *session.Server, upgrader websocket.Upgrader, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade が失敗した場合はレスポンスが既に書き込まれている
		logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	if err := server.ServePlayerWS(ctx, conn); err != nil {
		logger.Debug("WebSocket session ended", zap.Error(err))
	}
}
