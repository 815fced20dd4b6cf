package handlers

import (
	"context"
	"time"

	"battleserver/internal/room"
	"battleserver/internal/session"
	"battleserver/middlewares"
	"battleserver/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps is everything the admin router needs. Archive may be nil.
type Deps struct {
	Ctx          context.Context
	Manager      *room.Manager
	Server       *session.Server
	Archive      BattleLister
	JWTSecret    []byte
	AllowOrigins []string
	Logger       *zap.Logger
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// SetupRouter wires the admin API and the player WebSocket entry point.
func SetupRouter(d Deps) *gin.Engine {
	logger := d.Logger.Named("admin")
	router := gin.New()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))
	if len(d.AllowOrigins) > 0 {
		router.Use(cors.New(corsConfig(d.AllowOrigins)))
	}

	router.GET("/healthz", func(c *gin.Context) {
		HealthHandler(c, d.Manager)
	})

	upgrader := NewUpgrader()
	router.GET("/ws/player", func(c *gin.Context) {
		HandleConnections(d.Ctx, c, d.Server, upgrader, logger)
	})

	authorized := router.Group("/", middlewares.TokenAuthentication(d.JWTSecret, logger))
	authorized.GET("/rooms", func(c *gin.Context) {
		RoomsHandler(c, d.Manager, logger)
	})
	authorized.GET("/rooms/:id", func(c *gin.Context) {
		RoomInfoHandler(c, d.Manager, logger)
	})
	authorized.GET("/battles", func(c *gin.Context) {
		BattlesHandler(c, d.Archive, logger)
	})
	return router
}
