package session

import (
	"context"
	"errors"
	"sync"

	"battleserver/internal/endpoint"
	"battleserver/internal/marine"
	"battleserver/internal/message"
	"battleserver/internal/queue"
	"battleserver/internal/room"

	"go.uber.org/zap"
)

// Player is one player connection. It answers commands on the reader
// goroutine and applies observer reports on its own consumer goroutine.
//
// Lock order is room before player: p.mu is never held while calling into a Room.
type Player struct {
	ep      *endpoint.Endpoint
	manager *room.Manager
	logger  *zap.Logger

	notifications *queue.Queue[message.MarineReport]
	finished      chan struct{}
	finishOnce    sync.Once

	mu    sync.Mutex
	room  *room.Room
	color int32
	alive map[int32]*marine.Marine
	died  map[int32]*marine.Marine
}

func NewPlayer(ep *endpoint.Endpoint, manager *room.Manager) *Player {
	return &Player{
		ep:            ep,
		manager:       manager,
		logger:        ep.Logger(),
		notifications: queue.New[message.MarineReport](),
		finished:      make(chan struct{}),
		alive:         make(map[int32]*marine.Marine),
		died:          make(map[int32]*marine.Marine),
	}
}

// Serve runs the connection and the notification consumer until the session ends.
func (p *Player) Serve(ctx context.Context) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.finished:
		case <-p.ep.Done():
		case <-consumerCtx.Done():
		}
		cancel()
	}()
	go p.consume(consumerCtx)

	return p.ep.Run(ctx, p)
}

func (p *Player) ID() string {
	return p.ep.ID()
}

func (p *Player) Put(data []byte) {
	p.ep.Put(data)
}

func (p *Player) Flush(ctx context.Context) error {
	return p.ep.Flush(ctx)
}

func (p *Player) Terminate() {
	p.ep.Terminate()
}

func (p *Player) Color() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.color
}

func (p *Player) currentRoom() *room.Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// Joined は部屋のロック中に呼ばれる。部屋のメソッドは呼ばない
func (p *Player) Joined(r *room.Room, marines []*marine.Marine) {
	snaps := make([]marine.Snapshot, 0, len(marines))
	p.mu.Lock()
	p.room = r
	for _, m := range marines {
		p.alive[m.ID()] = m
		snaps = append(snaps, m.Snapshot())
	}
	p.mu.Unlock()

	p.Put(message.PackJoinRoomResponse(r.ID(), r.Size(), message.OwnViews(snaps)))
}

func (p *Player) Notify(report message.MarineReport) {
	p.notifications.Put(report)
}

func (p *Player) EndBattle(reason room.Reason, win bool) {
	p.logger.Info("Battle ended", zap.String("reason", string(reason)), zap.Bool("win", win))
	p.Put(message.PackEndBattle(string(reason), win))
	p.finishOnce.Do(func() { close(p.finished) })
}

func (p *Player) AliveMarines() []marine.Snapshot {
	p.mu.Lock()
	marines := make([]*marine.Marine, 0, len(p.alive))
	for _, m := range p.alive {
		marines = append(marines, m)
	}
	p.mu.Unlock()

	snaps := make([]marine.Snapshot, 0, len(marines))
	for _, m := range marines {
		snaps = append(snaps, m.Snapshot())
	}
	return snaps
}

func (p *Player) MarineCounts() (alive, died int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alive), len(p.died)
}

func (p *Player) OnData(data []byte) error {
	cmd, err := message.DecodePlayerCommand(data)
	if err != nil {
		p.logger.Warn("Undecodable player command", zap.Error(err))
		return err
	}

	switch cmd.Kind {
	case message.PlayerJoinRoom:
		p.joinRoom(cmd.JoinRoom)
	case message.PlayerCreateMarine:
		p.logger.Warn("CreateMarine is not supported")
		p.Put(message.PackPlayerResponse(message.CodeUnsupported, message.PlayerCreateMarine))
	case message.PlayerOperateMarine:
		p.operate(cmd.Operate)
	}
	return nil
}

func (p *Player) OnConnectionClosed() {
	p.logger.Info("Player connection closed")
	p.leave()
}

func (p *Player) OnConnectionLost(err error) {
	p.logger.Warn("Player connection lost", zap.Error(err))
	p.leave()
}

func (p *Player) leave() {
	if r := p.currentRoom(); r != nil {
		r.PlayerTerminated(p, room.Disconnected)
	}
}

func (p *Player) joinRoom(req *message.JoinRoom) {
	if p.currentRoom() != nil {
		p.logger.Warn("Player already joined a room", zap.Int32("roomID", req.RoomID))
		p.Put(message.PackPlayerResponse(message.CodeRoomFull, message.PlayerJoinRoom))
		return
	}

	p.mu.Lock()
	p.color = req.Color
	p.mu.Unlock()

	_, _, err := p.manager.PlayerJoinRoom(req.RoomID, p)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		p.logger.Info("Join rejected: room not found", zap.Int32("roomID", req.RoomID))
		p.Put(message.PackPlayerResponse(message.CodeRoomNotFound, message.PlayerJoinRoom))
	case errors.Is(err, room.ErrRoomFull):
		p.logger.Info("Join rejected: room full", zap.Int32("roomID", req.RoomID))
		p.Put(message.PackPlayerResponse(message.CodeRoomFull, message.PlayerJoinRoom))
	}
}

// operate は成功時にプレイヤーへ応答しない。観戦者への更新だけを送る
func (p *Player) operate(op *message.OperateMarine) {
	snap, code := p.marineOperate(op)
	if code != message.CodeOK {
		p.Put(message.PackPlayerResponse(code, message.PlayerOperateMarine))
		return
	}
	p.currentRoom().MarineOperated(snap)
}

func (p *Player) marineOperate(op *message.OperateMarine) (marine.Snapshot, message.Code) {
	r := p.currentRoom()
	if r == nil || !r.Started() {
		return marine.Snapshot{}, message.CodeBattleNotStarted
	}

	p.mu.Lock()
	_, dead := p.died[op.MarineID]
	m, ok := p.alive[op.MarineID]
	p.mu.Unlock()
	if dead {
		return marine.Snapshot{}, message.CodeMarineAlreadyDead
	}
	if !ok {
		return marine.Snapshot{}, message.CodeMarineNotFound
	}

	snap, err := m.Update(marine.Update{
		Status: op.Status,
		Target: op.Target,
		Role:   marine.RoleNormal,
	})
	switch {
	case errors.Is(err, marine.ErrGunCoolDown):
		return snap, message.CodeGunCoolDown
	case errors.Is(err, marine.ErrEmptyFlares):
		return snap, message.CodeEmptyFlares
	case errors.Is(err, marine.ErrOutOfMap):
		return snap, message.CodeOutOfMap
	}
	return snap, message.CodeOK
}

func (p *Player) consume(ctx context.Context) {
	for {
		report, err := p.notifications.Get(ctx)
		if err != nil {
			return
		}
		p.handleReport(ctx, report)
	}
}

func (p *Player) aliveMarine(id int32) *marine.Marine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[id]
}

// bury moves a dead marine to the died set and reports whether the roster is now empty.
func (p *Player) bury(id int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.alive[id]; ok {
		delete(p.alive, id)
		p.died[id] = m
	}
	return len(p.alive) == 0
}

// reported applies an observer-reported state and resets the role to Normal.
func (p *Player) reported(m *marine.Marine, st message.MarineState) (marine.Snapshot, error) {
	return m.Update(marine.Update{
		Status:   st.Status,
		Position: st.Position,
		Role:     marine.RoleNormal,
		Reported: true,
	})
}

func (p *Player) handleReport(ctx context.Context, report message.MarineReport) {
	r := p.currentRoom()
	if r == nil || !r.Started() {
		return
	}
	logger := p.logger.With(zap.Stringer("report", report.Kind))

	switch report.Kind {
	case message.ReportToIdle:
		if report.Idle == nil {
			return
		}
		m := p.aliveMarine(report.Idle.ID)
		if m == nil {
			return
		}
		snap, err := m.Update(marine.Update{
			Status:   marine.StatusIdle,
			Position: report.Idle.Position,
			Role:     marine.RoleNormal,
			Reported: true,
		})
		if err != nil {
			logger.Warn("Rejected reported update", zap.Int32("marineID", m.ID()), zap.Error(err))
			return
		}
		r.ReportIdle(p, snap)

	case message.ReportDamage:
		if v := report.Damage; v != nil {
			if m := p.aliveMarine(v.ID); m != nil {
				p.damage(r, m, *v, logger)
				return
			}
		}
		if a := report.Attack; a != nil {
			if m := p.aliveMarine(a.ID); m != nil {
				snap, err := m.Update(marine.Update{
					Status:   a.Status,
					Position: a.Position,
					Role:     marine.RoleAttacker,
					Reported: true,
				})
				if err != nil {
					logger.Warn("Rejected reported update", zap.Int32("marineID", m.ID()), zap.Error(err))
					return
				}
				r.ReportDamage(p, snap)
			}
		}

	case message.ReportFlares, message.ReportFlares2, message.ReportGunAttack:
		for _, st := range report.Marines {
			m := p.aliveMarine(st.ID)
			if m == nil {
				continue
			}
			if _, err := p.reported(m, st); err != nil {
				logger.Warn("Rejected reported update", zap.Int32("marineID", m.ID()), zap.Error(err))
			}
		}
		reporter := p.aliveMarine(report.ReporterID)
		if reporter == nil {
			return
		}
		if report.Kind == message.ReportGunAttack {
			r.ReportGunAttack(p, reporter.Snapshot())
			return
		}
		r.ReportFlares(ctx, p, reporter.Snapshot(), report.Kind == message.ReportFlares2)

	default:
		logger.Warn("Unknown report kind")
	}
}

func (p *Player) damage(r *room.Room, m *marine.Marine, v message.MarineState, logger *zap.Logger) {
	snap, err := m.Update(marine.Update{
		Status:   v.Status,
		Position: v.Position,
		Role:     marine.RoleInjured,
		Damaged:  true,
		Reported: true,
	})
	if err != nil {
		logger.Warn("Rejected reported update", zap.Int32("marineID", m.ID()), zap.Error(err))
		return
	}

	if snap.Died() {
		snap = m.Kill()
		logger.Info("Marine died", zap.Int32("marineID", m.ID()))
		if p.bury(m.ID()) {
			r.PlayerTerminated(p, room.RosterEmptied)
		}
	}
	r.ReportDamage(p, snap)
}
