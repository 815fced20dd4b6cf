// Package message is the protobuf-wire codec for observer and player traffic.
//
// Every payload travels inside the length-prefixed frames of the endpoint
// package. Field numbers are fixed here and shared with clients.
package message

import (
	"fmt"

	"battleserver/internal/marine"

	"google.golang.org/protobuf/encoding/protowire"
)

// Code は応答の ret 値
type Code int32

const (
	CodeOK                Code = 0
	CodeUnsupported       Code = 1
	CodeRoomNotFound      Code = 14
	CodeRoomFull          Code = 15
	CodeMarineNotFound    Code = 20
	CodeMarineAlreadyDead Code = 21
	CodeGunCoolDown       Code = 22
	CodeEmptyFlares       Code = 23
	CodeOutOfMap          Code = 24
	CodeBattleNotStarted  Code = 25
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeUnsupported:
		return "Unsupported"
	case CodeRoomNotFound:
		return "RoomNotFound"
	case CodeRoomFull:
		return "RoomFull"
	case CodeMarineNotFound:
		return "MarineNotFound"
	case CodeMarineAlreadyDead:
		return "MarineAlreadyDead"
	case CodeGunCoolDown:
		return "GunCoolDown"
	case CodeEmptyFlares:
		return "EmptyFlares"
	case CodeOutOfMap:
		return "OutOfMap"
	case CodeBattleNotStarted:
		return "BattleNotStarted"
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// MarineView is a marine snapshot projected for one viewer. Target and Flares
// are only present in the owner's projection.
type MarineView struct {
	ID       int32
	HP       int32
	Position marine.Position
	Status   marine.Status
	Role     marine.Role
	Target   *marine.Position
	Flares   *int32
}

// OwnView は所有者向けの完全な表示
func OwnView(s marine.Snapshot) MarineView {
	target := s.Target
	flares := s.Flares
	return MarineView{
		ID:       s.ID,
		HP:       s.HP,
		Position: s.Position,
		Status:   s.Status,
		Role:     s.Role,
		Target:   &target,
		Flares:   &flares,
	}
}

// OtherView は敵向けの制限付き表示。目標座標とフレア残数を隠す
func OtherView(s marine.Snapshot) MarineView {
	return MarineView{
		ID:       s.ID,
		HP:       s.HP,
		Position: s.Position,
		Status:   s.Status,
		Role:     s.Role,
	}
}

func OwnViews(snaps []marine.Snapshot) []MarineView {
	views := make([]MarineView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, OwnView(s))
	}
	return views
}

func OtherViews(snaps []marine.Snapshot) []MarineView {
	views := make([]MarineView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, OtherView(s))
	}
	return views
}

// MarineState is a marine as reported by the observer.
type MarineState struct {
	ID       int32
	Status   marine.Status
	Position *marine.Position
}

type ReportKind int32

const (
	ReportToIdle ReportKind = iota + 1
	ReportDamage
	ReportFlares
	ReportFlares2
	ReportGunAttack
)

func (k ReportKind) String() string {
	switch k {
	case ReportToIdle:
		return "toidle"
	case ReportDamage:
		return "damage"
	case ReportFlares:
		return "flares"
	case ReportFlares2:
		return "flares2"
	case ReportGunAttack:
		return "gunattack"
	}
	return fmt.Sprintf("ReportKind(%d)", int32(k))
}

// MarineReport is forwarded verbatim from the observer to every player.
type MarineReport struct {
	Kind       ReportKind
	Idle       *MarineState
	Damage     *MarineState
	Attack     *MarineState
	Marines    []MarineState
	ReporterID int32
}

type CreateRoom struct {
	MapID int32
}

type JoinRoom struct {
	RoomID int32
	Color  int32
}

type OperateMarine struct {
	MarineID int32
	Status   marine.Status
	Target   *marine.Position
}

// Response answers a command. RoomID, Size and Marines are only set on
// successful room creation / join.
type Response struct {
	Ret     Code
	Cmd     int32
	RoomID  int32
	Size    *marine.Size
	Marines []MarineView
}

func encodePosition(p marine.Position) []byte {
	var b []byte
	b = appendDouble(b, 1, p.X)
	b = appendDouble(b, 2, p.Z)
	return b
}

func decodePosition(b []byte) (marine.Position, error) {
	var p marine.Position
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.X = d.double(f)
		case 2:
			p.Z = d.double(f)
		}
		return d.err
	})
	return p, err
}

func encodeSize(s marine.Size) []byte {
	var b []byte
	b = appendInt32(b, 1, s.Width)
	b = appendInt32(b, 2, s.Height)
	return b
}

func decodeSize(b []byte) (marine.Size, error) {
	var s marine.Size
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.Width = d.int32(f)
		case 2:
			s.Height = d.int32(f)
		}
		return d.err
	})
	return s, err
}

func encodeMarineView(v MarineView) []byte {
	var b []byte
	b = appendInt32(b, 1, v.ID)
	b = appendSint32(b, 2, v.HP)
	b = appendMessage(b, 3, encodePosition(v.Position))
	b = appendInt32(b, 4, int32(v.Status))
	b = appendInt32(b, 5, int32(v.Role))
	if v.Target != nil {
		b = appendMessage(b, 6, encodePosition(*v.Target))
	}
	if v.Flares != nil {
		b = appendInt32(b, 7, *v.Flares)
	}
	return b
}

func decodeMarineView(b []byte) (MarineView, error) {
	var v MarineView
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			v.ID = d.int32(f)
		case 2:
			v.HP = d.sint32(f)
		case 3:
			d.nested(f, func(b []byte) (err error) {
				v.Position, err = decodePosition(b)
				return err
			})
		case 4:
			v.Status = marine.Status(d.int32(f))
		case 5:
			v.Role = marine.Role(d.int32(f))
		case 6:
			d.nested(f, func(b []byte) error {
				p, err := decodePosition(b)
				v.Target = &p
				return err
			})
		case 7:
			n := d.int32(f)
			v.Flares = &n
		}
		return d.err
	})
	return v, err
}

func appendMarineViews(b []byte, num protowire.Number, views []MarineView) []byte {
	for _, v := range views {
		b = appendMessage(b, num, encodeMarineView(v))
	}
	return b
}

func encodeMarineState(s MarineState) []byte {
	var b []byte
	b = appendInt32(b, 1, s.ID)
	b = appendInt32(b, 2, int32(s.Status))
	if s.Position != nil {
		b = appendMessage(b, 3, encodePosition(*s.Position))
	}
	return b
}

func decodeMarineState(b []byte) (MarineState, error) {
	var s MarineState
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.ID = d.int32(f)
		case 2:
			s.Status = marine.Status(d.int32(f))
		case 3:
			d.nested(f, func(b []byte) error {
				p, err := decodePosition(b)
				s.Position = &p
				return err
			})
		}
		return d.err
	})
	return s, err
}

func encodeReport(r MarineReport) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(r.Kind))
	if r.Idle != nil {
		b = appendMessage(b, 2, encodeMarineState(*r.Idle))
	}
	if r.Damage != nil {
		b = appendMessage(b, 3, encodeMarineState(*r.Damage))
	}
	if r.Attack != nil {
		b = appendMessage(b, 4, encodeMarineState(*r.Attack))
	}
	for _, m := range r.Marines {
		b = appendMessage(b, 5, encodeMarineState(m))
	}
	b = appendInt32(b, 6, r.ReporterID)
	return b
}

func decodeReport(b []byte) (*MarineReport, error) {
	r := &MarineReport{}
	d := &decoder{}
	state := func(f field, dst **MarineState) {
		d.nested(f, func(b []byte) error {
			s, err := decodeMarineState(b)
			*dst = &s
			return err
		})
	}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Kind = ReportKind(d.int32(f))
		case 2:
			state(f, &r.Idle)
		case 3:
			state(f, &r.Damage)
		case 4:
			state(f, &r.Attack)
		case 5:
			d.nested(f, func(b []byte) error {
				s, err := decodeMarineState(b)
				r.Marines = append(r.Marines, s)
				return err
			})
		case 6:
			r.ReporterID = d.int32(f)
		}
		return d.err
	})
	return r, err
}

func encodeResponse(r Response) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(r.Ret))
	b = appendInt32(b, 2, r.Cmd)
	if r.RoomID != 0 {
		b = appendInt32(b, 3, r.RoomID)
	}
	if r.Size != nil {
		b = appendMessage(b, 4, encodeSize(*r.Size))
	}
	return appendMarineViews(b, 5, r.Marines)
}

func decodeResponse(b []byte) (*Response, error) {
	r := &Response{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Ret = Code(d.int32(f))
		case 2:
			r.Cmd = d.int32(f)
		case 3:
			r.RoomID = d.int32(f)
		case 4:
			d.nested(f, func(b []byte) error {
				s, err := decodeSize(b)
				r.Size = &s
				return err
			})
		case 5:
			d.nested(f, func(b []byte) error {
				v, err := decodeMarineView(b)
				r.Marines = append(r.Marines, v)
				return err
			})
		}
		return d.err
	})
	return r, err
}
