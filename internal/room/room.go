// Package room implements one match (Room) and the process-wide registry of
// matches (Manager).
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"battleserver/internal/marine"
	"battleserver/internal/message"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRoomNotFound = errors.New("room: not found")
	ErrRoomFull     = errors.New("room: full or already started")
)

type Settings struct {
	MaxPlayers       int
	MaxDuration      time.Duration
	MarinesPerPlayer int
	DrainTimeout     time.Duration
	SettleDelay      time.Duration
}

// DefaultSettings returns the values used when the configuration leaves a field unset.
func DefaultSettings() Settings {
	return Settings{
		MaxPlayers:       2,
		MaxDuration:      600 * time.Second,
		MarinesPerPlayer: 2,
		DrainTimeout:     100 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
	}
}

type Room struct {
	id       int32
	mapID    int32
	size     marine.Size
	settings Settings
	factory  *marine.Factory
	logger   *zap.Logger

	onStarted func(*Room)

	mu         sync.RWMutex
	phase      Phase
	observers  []Observer
	alive      []Player
	died       []Player
	owned      map[string][]int32
	taken      map[int32]bool
	timedOut   bool
	filled     bool
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	started    chan struct{}
	startOnce  sync.Once
	finished   chan struct{}
	finishOnce sync.Once
	guard      *time.Timer
}

func newRoom(id, mapID int32, size marine.Size, settings Settings, factory *marine.Factory, logger *zap.Logger) *Room {
	r := &Room{
		id:        id,
		mapID:     mapID,
		size:      size,
		settings:  settings,
		factory:   factory,
		logger:    logger.With(zap.Int32("roomID", id)),
		owned:     make(map[string][]int32),
		taken:     make(map[int32]bool),
		createdAt: time.Now(),
		started:   make(chan struct{}),
		finished:  make(chan struct{}),
	}
	r.guard = time.AfterFunc(settings.MaxDuration, r.timeout)
	return r
}

func (r *Room) ID() int32 {
	return r.id
}

func (r *Room) MapID() int32 {
	return r.mapID
}

func (r *Room) Size() marine.Size {
	return r.size
}

func (r *Room) Logger() *zap.Logger {
	return r.logger
}

func (r *Room) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Started reports whether the battle is running. A finished room is not started.
func (r *Room) Started() bool {
	return r.Phase() == Started
}

// timeout はガードタイマーから呼ばれ、開始と終了の両方の待機を解放する
func (r *Room) timeout() {
	r.mu.Lock()
	r.timedOut = true
	r.mu.Unlock()

	r.logger.Info("Room timed out", zap.Duration("maxDuration", r.settings.MaxDuration))
	r.releaseStart()
	r.releaseFinish()
}

func (r *Room) releaseStart() {
	r.startOnce.Do(func() { close(r.started) })
}

func (r *Room) releaseFinish() {
	r.finishOnce.Do(func() { close(r.finished) })
}

// PlayerJoin registers p, spawns its squad and announces it to the observers.
// The start signal is released once the room is at capacity.
func (r *Room) PlayerJoin(p Player) ([]*marine.Marine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != Waiting || len(r.alive)+len(r.died) >= r.settings.MaxPlayers {
		return nil, ErrRoomFull
	}

	marines := r.factory.Create(r.size, r.settings.MarinesPerPlayer, r.taken)
	ids := make([]int32, 0, len(marines))
	snaps := make([]marine.Snapshot, 0, len(marines))
	for _, m := range marines {
		r.taken[m.ID()] = true
		ids = append(ids, m.ID())
		snaps = append(snaps, m.Snapshot())
	}
	r.owned[p.ID()] = ids
	r.alive = append(r.alive, p)

	// 参加応答を StartBattle より先にキューへ積む
	p.Joined(r, marines)
	created := message.PackMarineCreated(p.Color(), message.OwnViews(snaps))
	for _, o := range r.observers {
		o.Put(created)
	}

	r.logger.Info("Player joined",
		zap.String("session", p.ID()),
		zap.Int32("color", p.Color()),
		zap.Int("players", len(r.alive)))

	if len(r.alive) == r.settings.MaxPlayers {
		r.filled = true
		r.releaseStart()
	}
	return marines, nil
}

func (r *Room) ObserverJoin(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()

	r.logger.Info("Observer joined", zap.String("session", o.ID()))
}

// PlayerTerminated moves p out of the alive set. While waiting the player is
// dropped entirely and its slot freed; once started it joins the died set and
// the finish signal is released.
func (r *Room) PlayerTerminated(p Player, cause Cause) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexOf(r.alive, p)
	if idx < 0 {
		return
	}

	switch r.phase {
	case Waiting:
		r.alive = append(r.alive[:idx], r.alive[idx+1:]...)
		for _, id := range r.owned[p.ID()] {
			delete(r.taken, id)
		}
		delete(r.owned, p.ID())
		r.logger.Info("Player left before start", zap.String("session", p.ID()), zap.Stringer("cause", cause))
	case Started:
		r.alive = append(r.alive[:idx], r.alive[idx+1:]...)
		r.died = append(r.died, p)
		r.logger.Info("Player terminated", zap.String("session", p.ID()), zap.Stringer("cause", cause))
		r.releaseFinish()
	}
}

func indexOf(players []Player, p Player) int {
	for i, q := range players {
		if q == p {
			return i
		}
	}
	return -1
}

// Run drives the room through start and finish and returns the outcome. When
// ctx is cancelled the room finishes with ReasonShutdown.
func (r *Room) Run(ctx context.Context) Result {
	defer r.guard.Stop()

	if r.battleStart(ctx) && r.onStarted != nil {
		r.onStarted(r)
	}
	return r.battleFinish(ctx)
}

func (r *Room) battleStart(ctx context.Context) bool {
	select {
	case <-r.started:
	case <-ctx.Done():
		return false
	}

	r.mu.Lock()
	if r.phase != Waiting {
		r.mu.Unlock()
		return false
	}
	r.phase = Started
	r.startedAt = time.Now()
	players := append([]Player(nil), r.alive...)
	r.mu.Unlock()

	r.logger.Info("Battle started", zap.Int("players", len(players)))
	start := message.PackStartBattle()
	for _, p := range players {
		p.Put(start)
	}
	return true
}

func (r *Room) battleFinish(ctx context.Context) Result {
	shutdown := false
	select {
	case <-r.finished:
	case <-ctx.Done():
		shutdown = true
	}

	r.mu.Lock()
	r.phase = Finished
	r.finishedAt = time.Now()
	reason := ReasonNormal
	switch {
	case shutdown:
		reason = ReasonShutdown
	case r.timedOut:
		reason = ReasonTimeout
	}
	winners := r.filled
	alive := append([]Player(nil), r.alive...)
	died := append([]Player(nil), r.died...)
	observers := append([]Observer(nil), r.observers...)
	result := Result{
		RoomID:     r.id,
		MapID:      r.mapID,
		Reason:     reason,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
	r.mu.Unlock()

	for _, p := range alive {
		p.EndBattle(reason, winners)
		result.Players = append(result.Players, playerResult(p, winners))
	}
	for _, p := range died {
		p.EndBattle(reason, false)
		result.Players = append(result.Players, playerResult(p, false))
	}
	r.logger.Info("Battle finished",
		zap.String("reason", string(reason)),
		zap.Int("winners", result.Winners()),
		zap.Int("players", len(result.Players)))

	r.drain(observers, alive, died)
	for _, o := range observers {
		o.Terminate()
	}
	for _, p := range alive {
		p.Terminate()
	}
	for _, p := range died {
		p.Terminate()
	}
	return result
}

func playerResult(p Player, win bool) PlayerResult {
	alive, died := p.MarineCounts()
	return PlayerResult{
		SessionID: p.ID(),
		Color:     p.Color(),
		Win:       win,
		Alive:     alive,
		Died:      died,
	}
}

// drain は全接続の送信キューが空になるのを DrainTimeout まで待つ
func (r *Room) drain(observers []Observer, alive, died []Player) {
	ctx, cancel := context.WithTimeout(context.Background(), r.settings.DrainTimeout)
	defer cancel()

	var g errgroup.Group
	flush := func(o Observer) {
		g.Go(func() error { return o.Flush(ctx) })
	}
	for _, o := range observers {
		flush(o)
	}
	for _, p := range alive {
		flush(p)
	}
	for _, p := range died {
		flush(p)
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("Drain incomplete", zap.Error(err))
	}
}

// BroadcastToObservers queues data for every observer except exclude.
func (r *Room) BroadcastToObservers(data []byte, exclude Observer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		if o != exclude {
			o.Put(data)
		}
	}
}

// BroadcastToPlayers queues data for every alive player except exclude.
func (r *Room) BroadcastToPlayers(data []byte, exclude Player) {
	for _, p := range r.alivePlayers(exclude) {
		p.Put(data)
	}
}

// NotifyPlayers pushes an observer report into every alive player's queue.
func (r *Room) NotifyPlayers(report message.MarineReport) {
	for _, p := range r.alivePlayers(nil) {
		p.Notify(report)
	}
}

func (r *Room) alivePlayers(exclude Player) []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]Player, 0, len(r.alive))
	for _, p := range r.alive {
		if p != exclude {
			players = append(players, p)
		}
	}
	return players
}

// MarineOperated shows the result of a player command to the observers.
func (r *Room) MarineOperated(s marine.Snapshot) {
	r.BroadcastToObservers(message.PackObserverSceneUpdate(message.OwnView(s)), nil)
}

// ReportIdle sends the owner its marine after an idle report.
func (r *Room) ReportIdle(p Player, s marine.Snapshot) {
	p.Put(message.PackPlayerSceneUpdate([]message.MarineView{message.OwnView(s)}, nil))
}

// ReportDamage fans out a damaged or attacking marine: full view to observers
// and the owner, restricted view to the other players.
func (r *Room) ReportDamage(p Player, s marine.Snapshot) {
	own := message.OwnView(s)
	r.BroadcastToObservers(message.PackObserverSceneUpdate(own), nil)
	p.Put(message.PackPlayerSceneUpdate([]message.MarineView{own}, nil))
	r.BroadcastToPlayers(message.PackPlayerSceneUpdate(nil, []message.MarineView{message.OtherView(s)}), p)
}

// ReportFlares waits the settle delay so same-tick updates land first, then
// sends the reporter's owner its marine plus every opponent's alive marines.
// Unless quiet, the opponents also see the reporter.
func (r *Room) ReportFlares(ctx context.Context, p Player, s marine.Snapshot, quiet bool) {
	t := time.NewTimer(r.settings.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return
	}

	others := r.alivePlayers(p)
	var views []message.MarineView
	for _, o := range others {
		views = append(views, message.OtherViews(o.AliveMarines())...)
	}
	p.Put(message.PackPlayerSceneUpdate([]message.MarineView{message.OwnView(s)}, views))

	if quiet {
		return
	}
	data := message.PackPlayerSceneUpdate(nil, []message.MarineView{message.OtherView(s)})
	for _, o := range others {
		o.Put(data)
	}
}

// ReportGunAttack shows the shooter to every other player.
func (r *Room) ReportGunAttack(p Player, s marine.Snapshot) {
	r.BroadcastToPlayers(message.PackPlayerSceneUpdate(nil, []message.MarineView{message.OtherView(s)}), p)
}

func (r *Room) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{
		ID:         r.id,
		MapID:      r.mapID,
		Width:      r.size.Width,
		Height:     r.size.Height,
		Phase:      r.phase.String(),
		Alive:      len(r.alive),
		Died:       len(r.died),
		Observers:  len(r.observers),
		MaxPlayers: r.settings.MaxPlayers,
		CreatedAt:  r.createdAt,
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		s.StartedAt = &t
	}
	return s
}
