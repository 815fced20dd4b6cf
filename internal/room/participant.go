package room

import (
	"context"
	"time"

	"battleserver/internal/marine"
	"battleserver/internal/message"
)

// Observer is the room's view of an observer connection.
type Observer interface {
	ID() string
	Put(data []byte)
	Flush(ctx context.Context) error
	Terminate()
}

// Player is the room's view of a player connection.
//
// Joined is called with the room lock held and must not call back into the
// room's locking methods; it only records state and queues the reply.
type Player interface {
	Observer
	Color() int32
	Joined(r *Room, marines []*marine.Marine)
	Notify(report message.MarineReport)
	EndBattle(reason Reason, win bool)
	AliveMarines() []marine.Snapshot
	MarineCounts() (alive, died int)
}

// Cause tells the room why a player left the alive set.
type Cause int

const (
	Disconnected Cause = iota
	RosterEmptied
)

func (c Cause) String() string {
	if c == RosterEmptied {
		return "roster_emptied"
	}
	return "disconnected"
}

type Reason string

const (
	ReasonNormal   Reason = "Normal"
	ReasonTimeout  Reason = "Timeout"
	ReasonShutdown Reason = "Shutdown"
)

type Phase int32

const (
	Waiting Phase = iota
	Started
	Finished
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting"
	case Started:
		return "started"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Result is the outcome of a finished room, handed to the Recorder.
type Result struct {
	RoomID     int32
	MapID      int32
	Reason     Reason
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Players    []PlayerResult
}

type PlayerResult struct {
	SessionID string
	Color     int32
	Win       bool
	Alive     int
	Died      int
}

// Winners は勝者の数
func (r Result) Winners() int {
	n := 0
	for _, p := range r.Players {
		if p.Win {
			n++
		}
	}
	return n
}

// Summary is a point-in-time view of a room for the admin API and the directory.
type Summary struct {
	ID         int32      `json:"id"`
	MapID      int32      `json:"mapId"`
	Width      int32      `json:"width"`
	Height     int32      `json:"height"`
	Phase      string     `json:"phase"`
	Alive      int        `json:"alive"`
	Died       int        `json:"died"`
	Observers  int        `json:"observers"`
	MaxPlayers int        `json:"maxPlayers"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

// Recorder archives finished rooms.
type Recorder interface {
	RecordBattle(ctx context.Context, result Result) error
}

// Directory publishes live rooms to an external index.
type Directory interface {
	Publish(ctx context.Context, summary Summary, ttl time.Duration) error
	Remove(ctx context.Context, roomID int32) error
}
