package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"battleserver/database" //PostgreSQLとRedisの初期化
	"battleserver/handlers" //管理APIとプレイヤー用WebSocket
	"battleserver/internal/marine"
	"battleserver/internal/room"
	"battleserver/internal/session"
	"battleserver/models"
	"battleserver/utils" //ロガーの初期化とCronジョブ

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	config, err := database.LoadConfig("config.json")
	if err != nil {
		panic(err)
	}

	logger, err := utils.InitLogger(config.LogLevel) // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	if err := run(config, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(config models.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := config.Catalog()
	if err != nil {
		return err
	}

	var opts []room.Option
	var archive *database.BattleArchive
	if config.ArchiveEnabled() {
		db, err := database.InitPostgreSQL(config, logger)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		archive = database.NewBattleArchive(db, logger)
		opts = append(opts, room.WithRecorder(archive))
	} else {
		logger.Info("DB_HOST is not set, battle archive disabled")
	}

	if config.DirectoryEnabled() {
		rdb, err := database.InitRedis(config, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, room.WithDirectory(database.NewRoomDirectory(rdb, logger)))
	}

	manager := room.NewManager(config.RoomSettings(), catalog, marine.NewFactory(time.Now().UnixNano()), logger, opts...)
	server := session.NewServer(manager, config.SessionSettings(), logger.Named("session"))

	// アーカイブが無効な場合は nil のインタフェースを渡す
	var purger utils.Purger
	var lister handlers.BattleLister
	if archive != nil {
		purger = archive
		lister = archive
	}

	// クーロンスケジューラのセットアップと呼び出し
	c, err := utils.CronJobs(purger, config.Retention(), manager, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.SetupRouter(handlers.Deps{
		Ctx:          ctx,
		Manager:      manager,
		Server:       server,
		Archive:      lister,
		JWTSecret:    []byte(config.JWTSecret),
		AllowOrigins: config.AllowOrigins,
		Logger:       logger,
	})
	admin := &http.Server{Addr: config.AdminAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		logger.Info("Admin API listening", zap.String("addr", config.AdminAddr))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := admin.Shutdown(shutdownCtx)
		manager.Close()
		server.Wait()
		<-c.Stop().Done()
		return err
	})
	return g.Wait()
}
