// Package marine holds the combat unit model and its state transition rules.
package marine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	InitialHP      = 100
	InitialFlares  = 10
	DamagePerHit   = 10
	GunshotCooling = 2 * time.Second
)

// 検証エラー。呼び出し側で応答コードに変換する
var (
	ErrGunCoolDown = errors.New("marine: gun is cooling down")
	ErrEmptyFlares = errors.New("marine: no flares left")
	ErrOutOfMap    = errors.New("marine: position out of map")
)

type Status int32

const (
	StatusIdle Status = iota
	StatusRun
	StatusGunAttack
	StatusFlares
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRun:
		return "Run"
	case StatusGunAttack:
		return "GunAttack"
	case StatusFlares:
		return "Flares"
	case StatusDead:
		return "Dead"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

type Role int32

const (
	RoleNormal Role = iota
	RoleInjured
	RoleAttacker
)

func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "Normal"
	case RoleInjured:
		return "Injured"
	case RoleAttacker:
		return "Attacker"
	}
	return fmt.Sprintf("Role(%d)", int32(r))
}

type Position struct {
	X float64
	Z float64
}

// Size はマップの大きさ (width, height)
type Size struct {
	Width  int32
	Height int32
}

// Contains は両端を含む範囲チェック。x == Width も有効
func (s Size) Contains(p Position) bool {
	return !(p.X < 0 || p.X > float64(s.Width) || p.Z < 0 || p.Z > float64(s.Height))
}

// Snapshot is a copy of a marine's state taken under its lock.
type Snapshot struct {
	ID       int32
	HP       int32
	Position Position
	Target   Position
	Status   Status
	Role     Role
	Flares   int32
}

func (s Snapshot) Died() bool {
	return s.HP <= 0
}

// Update describes one requested transition.
//
// Reported marks updates coming from the observer: they bypass the cooldown and
// flare gates (the observer is the source of truth) but absolute positions are
// still bounds-checked.
type Update struct {
	Status   Status
	Position *Position
	Target   *Position
	Role     Role
	Damaged  bool
	Reported bool
}

type Marine struct {
	mu          sync.Mutex
	id          int32
	hp          int32
	position    Position
	target      Position
	status      Status
	role        Role
	flares      int32
	lastGunshot time.Time
	bounds      Size
	now         func() time.Time
}

func New(id int32, position Position, bounds Size) *Marine {
	return &Marine{
		id:       id,
		hp:       InitialHP,
		position: position,
		status:   StatusIdle,
		role:     RoleNormal,
		flares:   InitialFlares,
		bounds:   bounds,
		now:      time.Now,
	}
}

// SetClock はテスト用に時刻関数を差し替える
func (m *Marine) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Marine) ID() int32 {
	return m.id
}

func (m *Marine) Died() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hp <= 0
}

func (m *Marine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Marine) snapshot() Snapshot {
	return Snapshot{
		ID:       m.id,
		HP:       m.hp,
		Position: m.position,
		Target:   m.target,
		Status:   m.status,
		Role:     m.role,
		Flares:   m.flares,
	}
}

// Update validates u completely before mutating anything, so a rejected update
// leaves the marine untouched.
func (m *Marine) Update(u Update) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	gated := !u.Reported

	switch {
	case u.Status == StatusGunAttack && gated:
		if !m.lastGunshot.IsZero() && now.Sub(m.lastGunshot) < GunshotCooling {
			return m.snapshot(), ErrGunCoolDown
		}
	case u.Status == StatusFlares && gated:
		if m.flares <= 0 {
			return m.snapshot(), ErrEmptyFlares
		}
	}

	// フレア時の目標座標は無視される
	applyTarget := u.Target != nil && !(u.Status == StatusFlares && gated)
	if applyTarget && !m.bounds.Contains(*u.Target) {
		return m.snapshot(), ErrOutOfMap
	}
	if u.Position != nil && !m.bounds.Contains(*u.Position) {
		return m.snapshot(), ErrOutOfMap
	}

	if applyTarget {
		m.target = *u.Target
	}
	m.status = u.Status
	if gated {
		switch u.Status {
		case StatusGunAttack:
			m.lastGunshot = now
		case StatusFlares:
			m.flares--
		}
	}
	if u.Position != nil {
		m.position = *u.Position
	}
	m.role = u.Role
	if u.Damaged {
		m.hp -= DamagePerHit
	}
	return m.snapshot(), nil
}

// Kill marks the marine dead without touching hp or role.
func (m *Marine) Kill() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusDead
	return m.snapshot()
}
