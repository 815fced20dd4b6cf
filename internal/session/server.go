// Package session holds the observer and player connection handlers and the
// listeners that accept them.
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"battleserver/internal/endpoint"
	"battleserver/internal/room"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Settings struct {
	ObserverAddr string
	PlayerAddr   string
	MaxFrameSize int
}

// Server accepts observer and player connections and runs one session per
// connection.
type Server struct {
	manager  *room.Manager
	settings Settings
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewServer(manager *room.Manager, settings Settings, logger *zap.Logger) *Server {
	return &Server{manager: manager, settings: settings, logger: logger}
}

// ListenAndServe listens on both configured addresses and serves until ctx is
// cancelled or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	observers, err := lc.Listen(ctx, "tcp", s.settings.ObserverAddr)
	if err != nil {
		return err
	}
	players, err := lc.Listen(ctx, "tcp", s.settings.PlayerAddr)
	if err != nil {
		observers.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ServeObservers(ctx, observers) })
	g.Go(func() error { return s.ServePlayers(ctx, players) })
	return g.Wait()
}

func (s *Server) ServeObservers(ctx context.Context, ln net.Listener) error {
	logger := s.logger.Named("observer")
	return s.serve(ctx, ln, logger, func(ep *endpoint.Endpoint) func(context.Context) error {
		return NewObserver(ep, s.manager).Serve
	})
}

func (s *Server) ServePlayers(ctx context.Context, ln net.Listener) error {
	logger := s.logger.Named("player")
	return s.serve(ctx, ln, logger, func(ep *endpoint.Endpoint) func(context.Context) error {
		return NewPlayer(ep, s.manager).Serve
	})
}

// ServePlayerWS runs a player session over an upgraded WebSocket and blocks
// until it ends.
func (s *Server) ServePlayerWS(ctx context.Context, conn *websocket.Conn) error {
	s.wg.Add(1)
	defer s.wg.Done()

	tr := endpoint.NewWebSocketTransport(conn, s.settings.MaxFrameSize)
	ep := endpoint.New(tr, s.logger.Named("player").With(zap.String("transport", "websocket")))
	ep.Logger().Info("Player connected")
	return NewPlayer(ep, s.manager).Serve(ctx)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, logger *zap.Logger, newSession func(*endpoint.Endpoint) func(context.Context) error) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logger.Info("Listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("Accept timeout", zap.Error(err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		ep := endpoint.New(endpoint.NewConnTransport(conn, s.settings.MaxFrameSize), logger)
		ep.Logger().Info("Connection accepted")
		serve := newSession(ep)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := serve(ctx); err != nil {
				ep.Logger().Debug("Session ended", zap.Error(err))
			}
		}()
	}
}

// Wait blocks until every session goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
