package room

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"battleserver/internal/marine"
	"battleserver/internal/terrain"

	"go.uber.org/zap"
)

const (
	minRoomID = 1000000
	maxRoomID = 9999999

	hookTimeout = 2 * time.Second
	// directoryGrace はディレクトリのエントリを部屋の最大時間より少し長く残す
	directoryGrace = time.Minute
)

type Option func(*Manager)

func WithRecorder(rec Recorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

func WithDirectory(dir Directory) Option {
	return func(m *Manager) { m.directory = dir }
}

// Manager owns every live room. Rooms are added on creation and removed
// exactly once when their run loop returns.
type Manager struct {
	settings Settings
	catalog  *terrain.Catalog
	factory  *marine.Factory
	logger   *zap.Logger

	recorder  Recorder
	directory Directory

	mu    sync.RWMutex
	rooms map[int32]*Room
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(settings Settings, catalog *terrain.Catalog, factory *marine.Factory, logger *zap.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		settings: settings,
		catalog:  catalog,
		factory:  factory,
		logger:   logger.Named("room"),
		rooms:    make(map[int32]*Room),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRoom registers a new room for mapID and starts its run loop.
func (m *Manager) CreateRoom(mapID int32) *Room {
	size := m.catalog.Size(mapID)
	if !m.catalog.Known(mapID) {
		m.logger.Warn("Unknown map id, using fallback size", zap.Int32("mapID", mapID))
	}

	m.mu.Lock()
	id := m.nextID()
	r := newRoom(id, mapID, size, m.settings, m.factory, m.logger)
	r.onStarted = m.publish
	m.rooms[id] = r
	m.wg.Add(1)
	m.mu.Unlock()

	r.logger.Info("Room created",
		zap.Int32("mapID", mapID),
		zap.Int32("width", size.Width),
		zap.Int32("height", size.Height))
	m.publish(r)

	go m.run(r)
	return r
}

// nextID は m.mu を保持した状態で呼ぶ
func (m *Manager) nextID() int32 {
	for {
		id := minRoomID + m.rng.Int31n(maxRoomID-minRoomID+1)
		if _, ok := m.rooms[id]; !ok {
			return id
		}
	}
}

func (m *Manager) run(r *Room) {
	defer m.wg.Done()

	result := r.Run(m.ctx)
	m.remove(r.id)

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if m.directory != nil {
		if err := m.directory.Remove(ctx, r.id); err != nil {
			r.logger.Warn("Failed to remove room from directory", zap.Error(err))
		}
	}
	if m.recorder != nil {
		if err := m.recorder.RecordBattle(ctx, result); err != nil {
			r.logger.Error("Failed to record battle", zap.Error(err))
		}
	}
}

func (m *Manager) remove(id int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return false
	}
	delete(m.rooms, id)
	m.logger.Info("Room removed", zap.Int32("roomID", id))
	return true
}

func (m *Manager) publish(r *Room) {
	if m.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := m.directory.Publish(ctx, r.Summary(), m.settings.MaxDuration+directoryGrace); err != nil {
		r.logger.Warn("Failed to publish room", zap.Error(err))
	}
}

func (m *Manager) Room(id int32) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (m *Manager) ObserverJoinRoom(id int32, o Observer) (*Room, error) {
	r, err := m.Room(id)
	if err != nil {
		return nil, err
	}
	r.ObserverJoin(o)
	return r, nil
}

// PlayerJoinRoom looks up the room and joins p to it.
func (m *Manager) PlayerJoinRoom(id int32, p Player) (*Room, []*marine.Marine, error) {
	r, err := m.Room(id)
	if err != nil {
		return nil, nil, err
	}
	marines, err := r.PlayerJoin(p)
	if err != nil {
		return nil, nil, err
	}
	return r, marines, nil
}

// Rooms returns summaries of every live room.
func (m *Manager) Rooms() []Summary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	summaries := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, r.Summary())
	}
	return summaries
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Waiting int `json:"waiting"`
	Started int `json:"started"`
	Players int `json:"players"`
}

func (m *Manager) Stats() Stats {
	var st Stats
	for _, s := range m.Rooms() {
		st.Rooms++
		switch s.Phase {
		case Waiting.String():
			st.Waiting++
		case Started.String():
			st.Started++
		}
		st.Players += s.Alive + s.Died
	}
	return st
}

// Close finishes every room and waits for their run loops to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
