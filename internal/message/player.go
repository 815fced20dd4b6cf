package message

import (
	"fmt"

	"battleserver/internal/marine"
)

// PlayerCommandKind identifies a player -> server command.
type PlayerCommandKind int32

const (
	PlayerJoinRoom PlayerCommandKind = iota + 1
	PlayerCreateMarine
	PlayerOperateMarine
)

type PlayerCommand struct {
	Kind     PlayerCommandKind
	JoinRoom *JoinRoom
	Operate  *OperateMarine
}

// PlayerMessageKind identifies a server -> player message.
type PlayerMessageKind int32

const (
	PlayerCmdResponse PlayerMessageKind = iota + 1
	PlayerStartBattle
	PlayerSceneUpdate
	PlayerEndBattle
)

type SceneUpdate struct {
	Own    []MarineView
	Others []MarineView
}

type EndBattle struct {
	Reason string
	Win    bool
}

type PlayerMessage struct {
	Kind      PlayerMessageKind
	Response  *Response
	Update    *SceneUpdate
	EndBattle *EndBattle
}

func EncodePlayerCommand(c PlayerCommand) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(c.Kind))
	if c.JoinRoom != nil {
		b = appendMessage(b, 2, encodeJoinRoom(*c.JoinRoom))
	}
	if c.Kind == PlayerCreateMarine {
		b = appendMessage(b, 3, nil)
	}
	if c.Operate != nil {
		op := appendInt32(nil, 1, c.Operate.MarineID)
		op = appendInt32(op, 2, int32(c.Operate.Status))
		if c.Operate.Target != nil {
			op = appendMessage(op, 3, encodePosition(*c.Operate.Target))
		}
		b = appendMessage(b, 4, op)
	}
	return b
}

func DecodePlayerCommand(b []byte) (*PlayerCommand, error) {
	c := &PlayerCommand{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			c.Kind = PlayerCommandKind(d.int32(f))
		case 2:
			d.nested(f, func(b []byte) (err error) {
				c.JoinRoom, err = decodeJoinRoom(b)
				return err
			})
		case 3:
			// CreateMarine の中身は使わない
			d.bytes(f)
		case 4:
			d.nested(f, func(b []byte) (err error) {
				c.Operate, err = decodeOperate(b)
				return err
			})
		}
		return d.err
	})
	if err != nil {
		return nil, err
	}

	switch c.Kind {
	case PlayerJoinRoom:
		if c.JoinRoom == nil {
			c.JoinRoom = &JoinRoom{}
		}
	case PlayerCreateMarine:
	case PlayerOperateMarine:
		if c.Operate == nil {
			return nil, fmt.Errorf("%w: operate without payload", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown player command %d", ErrMalformed, c.Kind)
	}
	return c, nil
}

func decodeOperate(b []byte) (*OperateMarine, error) {
	op := &OperateMarine{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			op.MarineID = d.int32(f)
		case 2:
			op.Status = marine.Status(d.int32(f))
		case 3:
			d.nested(f, func(b []byte) error {
				p, err := decodePosition(b)
				op.Target = &p
				return err
			})
		}
		return d.err
	})
	return op, err
}

func EncodePlayerMessage(m PlayerMessage) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(m.Kind))
	if m.Response != nil {
		b = appendMessage(b, 2, encodeResponse(*m.Response))
	}
	if m.Update != nil {
		u := appendMarineViews(nil, 1, m.Update.Own)
		u = appendMarineViews(u, 2, m.Update.Others)
		b = appendMessage(b, 3, u)
	}
	if m.EndBattle != nil {
		e := appendString(nil, 1, m.EndBattle.Reason)
		e = appendBool(e, 2, m.EndBattle.Win)
		b = appendMessage(b, 4, e)
	}
	return b
}

func DecodePlayerMessage(b []byte) (*PlayerMessage, error) {
	m := &PlayerMessage{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Kind = PlayerMessageKind(d.int32(f))
		case 2:
			d.nested(f, func(b []byte) (err error) {
				m.Response, err = decodeResponse(b)
				return err
			})
		case 3:
			d.nested(f, func(b []byte) error {
				m.Update = &SceneUpdate{}
				return walk(b, func(f field) error {
					switch f.num {
					case 1, 2:
						d.nested(f, func(b []byte) error {
							v, err := decodeMarineView(b)
							if f.num == 1 {
								m.Update.Own = append(m.Update.Own, v)
							} else {
								m.Update.Others = append(m.Update.Others, v)
							}
							return err
						})
					}
					return d.err
				})
			})
		case 4:
			d.nested(f, func(b []byte) error {
				m.EndBattle = &EndBattle{}
				return walk(b, func(f field) error {
					switch f.num {
					case 1:
						m.EndBattle.Reason = d.string(f)
					case 2:
						m.EndBattle.Win = d.bool(f)
					}
					return d.err
				})
			})
		}
		return d.err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PackPlayerResponse は ret だけの応答
func PackPlayerResponse(ret Code, cmd PlayerCommandKind) []byte {
	return EncodePlayerMessage(PlayerMessage{
		Kind:     PlayerCmdResponse,
		Response: &Response{Ret: ret, Cmd: int32(cmd)},
	})
}

// PackJoinRoomResponse is the successful join reply carrying the player's own squad.
func PackJoinRoomResponse(roomID int32, size marine.Size, marines []MarineView) []byte {
	s := size
	return EncodePlayerMessage(PlayerMessage{
		Kind: PlayerCmdResponse,
		Response: &Response{
			Ret:     CodeOK,
			Cmd:     int32(PlayerJoinRoom),
			RoomID:  roomID,
			Size:    &s,
			Marines: marines,
		},
	})
}

func PackStartBattle() []byte {
	return EncodePlayerMessage(PlayerMessage{Kind: PlayerStartBattle})
}

func PackPlayerSceneUpdate(own, others []MarineView) []byte {
	return EncodePlayerMessage(PlayerMessage{
		Kind:   PlayerSceneUpdate,
		Update: &SceneUpdate{Own: own, Others: others},
	})
}

func PackEndBattle(reason string, win bool) []byte {
	return EncodePlayerMessage(PlayerMessage{
		Kind:      PlayerEndBattle,
		EndBattle: &EndBattle{Reason: reason, Win: win},
	})
}
