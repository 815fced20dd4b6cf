package session

import (
	"context"
	"sync"

	"battleserver/internal/endpoint"
	"battleserver/internal/message"
	"battleserver/internal/room"

	"go.uber.org/zap"
)

// Observer is the trusted reporter connection. Its reports are forwarded to
// the room's players without validation.
type Observer struct {
	ep      *endpoint.Endpoint
	manager *room.Manager
	logger  *zap.Logger

	mu   sync.Mutex
	room *room.Room
}

func NewObserver(ep *endpoint.Endpoint, manager *room.Manager) *Observer {
	return &Observer{ep: ep, manager: manager, logger: ep.Logger()}
}

func (o *Observer) Serve(ctx context.Context) error {
	return o.ep.Run(ctx, o)
}

func (o *Observer) ID() string {
	return o.ep.ID()
}

func (o *Observer) Put(data []byte) {
	o.ep.Put(data)
}

func (o *Observer) Flush(ctx context.Context) error {
	return o.ep.Flush(ctx)
}

func (o *Observer) Terminate() {
	o.ep.Terminate()
}

func (o *Observer) currentRoom() *room.Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.room
}

func (o *Observer) OnData(data []byte) error {
	cmd, err := message.DecodeObserverCommand(data)
	if err != nil {
		o.logger.Warn("Undecodable observer command", zap.Error(err))
		return err
	}

	switch cmd.Kind {
	case message.ObserverCreateRoom:
		o.createRoom(cmd.CreateRoom.MapID)
	case message.ObserverJoinRoom:
		o.logger.Warn("Observer JoinRoom is not supported")
		o.Put(message.PackObserverUnsupported(message.ObserverJoinRoom))
	case message.ObserverMarineReport:
		r := o.currentRoom()
		if r == nil {
			o.logger.Warn("Marine report before room creation", zap.Stringer("report", cmd.Report.Kind))
			return nil
		}
		r.NotifyPlayers(*cmd.Report)
	}
	return nil
}

// createRoom は観戦者として部屋に入ってから応答を積む
func (o *Observer) createRoom(mapID int32) {
	if prev := o.currentRoom(); prev != nil {
		o.logger.Info("Observer creates another room", zap.Int32("previousRoomID", prev.ID()))
	}

	r := o.manager.CreateRoom(mapID)
	o.mu.Lock()
	o.room = r
	o.mu.Unlock()

	if _, err := o.manager.ObserverJoinRoom(r.ID(), o); err != nil {
		o.logger.Error("Failed to join created room", zap.Int32("roomID", r.ID()), zap.Error(err))
	}
	o.Put(message.PackCreateRoomResponse(message.CodeOK, r.ID(), r.Size()))
}

func (o *Observer) OnConnectionClosed() {
	o.logger.Info("Observer connection closed")
}

func (o *Observer) OnConnectionLost(err error) {
	o.logger.Warn("Observer connection lost", zap.Error(err))
}
