package message

import (
	"fmt"

	"battleserver/internal/marine"
)

// ObserverCommandKind identifies an observer -> server command.
type ObserverCommandKind int32

const (
	ObserverCreateRoom ObserverCommandKind = iota + 1
	ObserverJoinRoom
	ObserverMarineReport
)

type ObserverCommand struct {
	Kind       ObserverCommandKind
	CreateRoom *CreateRoom
	JoinRoom   *JoinRoom
	Report     *MarineReport
}

// ObserverMessageKind identifies a server -> observer message.
type ObserverMessageKind int32

const (
	ObserverCmdResponse ObserverMessageKind = iota + 1
	ObserverMarineCreated
	ObserverSceneUpdate
)

type MarineCreated struct {
	Color   int32
	Marines []MarineView
}

type ObserverMessage struct {
	Kind     ObserverMessageKind
	Response *Response
	Created  *MarineCreated
	Update   []MarineView
}

func EncodeObserverCommand(c ObserverCommand) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(c.Kind))
	if c.CreateRoom != nil {
		b = appendMessage(b, 2, appendInt32(nil, 1, c.CreateRoom.MapID))
	}
	if c.JoinRoom != nil {
		b = appendMessage(b, 3, encodeJoinRoom(*c.JoinRoom))
	}
	if c.Report != nil {
		b = appendMessage(b, 4, encodeReport(*c.Report))
	}
	return b
}

// DecodeObserverCommand は観戦者からのコマンドを解析する。
// 既知のフィールドの型不一致や欠落したペイロードはエラーになる
func DecodeObserverCommand(b []byte) (*ObserverCommand, error) {
	c := &ObserverCommand{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			c.Kind = ObserverCommandKind(d.int32(f))
		case 2:
			d.nested(f, func(b []byte) error {
				c.CreateRoom = &CreateRoom{}
				return walk(b, func(f field) error {
					if f.num == 1 {
						c.CreateRoom.MapID = d.int32(f)
					}
					return d.err
				})
			})
		case 3:
			d.nested(f, func(b []byte) (err error) {
				c.JoinRoom, err = decodeJoinRoom(b)
				return err
			})
		case 4:
			d.nested(f, func(b []byte) (err error) {
				c.Report, err = decodeReport(b)
				return err
			})
		}
		return d.err
	})
	if err != nil {
		return nil, err
	}

	switch c.Kind {
	case ObserverCreateRoom:
		if c.CreateRoom == nil {
			c.CreateRoom = &CreateRoom{}
		}
	case ObserverJoinRoom:
	case ObserverMarineReport:
		if c.Report == nil {
			return nil, fmt.Errorf("%w: marine report without payload", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown observer command %d", ErrMalformed, c.Kind)
	}
	return c, nil
}

func EncodeObserverMessage(m ObserverMessage) []byte {
	var b []byte
	b = appendInt32(b, 1, int32(m.Kind))
	if m.Response != nil {
		b = appendMessage(b, 2, encodeResponse(*m.Response))
	}
	if m.Created != nil {
		created := appendInt32(nil, 1, m.Created.Color)
		created = appendMarineViews(created, 2, m.Created.Marines)
		b = appendMessage(b, 3, created)
	}
	if len(m.Update) > 0 {
		b = appendMessage(b, 4, appendMarineViews(nil, 1, m.Update))
	}
	return b
}

func DecodeObserverMessage(b []byte) (*ObserverMessage, error) {
	m := &ObserverMessage{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Kind = ObserverMessageKind(d.int32(f))
		case 2:
			d.nested(f, func(b []byte) (err error) {
				m.Response, err = decodeResponse(b)
				return err
			})
		case 3:
			d.nested(f, func(b []byte) error {
				m.Created = &MarineCreated{}
				return walk(b, func(f field) error {
					switch f.num {
					case 1:
						m.Created.Color = d.int32(f)
					case 2:
						d.nested(f, func(b []byte) error {
							v, err := decodeMarineView(b)
							m.Created.Marines = append(m.Created.Marines, v)
							return err
						})
					}
					return d.err
				})
			})
		case 4:
			d.nested(f, func(b []byte) error {
				return walk(b, func(f field) error {
					if f.num == 1 {
						d.nested(f, func(b []byte) error {
							v, err := decodeMarineView(b)
							m.Update = append(m.Update, v)
							return err
						})
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

// PackCreateRoomResponse builds the observer's reply to CreateRoom.
func PackCreateRoomResponse(ret Code, roomID int32, size marine.Size) []byte {
	s := size
	return EncodeObserverMessage(ObserverMessage{
		Kind: ObserverCmdResponse,
		Response: &Response{
			Ret:    ret,
			Cmd:    int32(ObserverCreateRoom),
			RoomID: roomID,
			Size:   &s,
		},
	})
}

func PackObserverUnsupported(cmd ObserverCommandKind) []byte {
	return EncodeObserverMessage(ObserverMessage{
		Kind:     ObserverCmdResponse,
		Response: &Response{Ret: CodeUnsupported, Cmd: int32(cmd)},
	})
}

func PackMarineCreated(color int32, marines []MarineView) []byte {
	return EncodeObserverMessage(ObserverMessage{
		Kind:    ObserverMarineCreated,
		Created: &MarineCreated{Color: color, Marines: marines},
	})
}

// PackObserverSceneUpdate は観戦者向けの更新。観戦者には常に完全な表示を送る
func PackObserverSceneUpdate(marines ...MarineView) []byte {
	return EncodeObserverMessage(ObserverMessage{
		Kind:   ObserverSceneUpdate,
		Update: marines,
	})
}

func encodeJoinRoom(j JoinRoom) []byte {
	var b []byte
	b = appendInt32(b, 1, j.RoomID)
	b = appendInt32(b, 2, j.Color)
	return b
}

func decodeJoinRoom(b []byte) (*JoinRoom, error) {
	j := &JoinRoom{}
	d := &decoder{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			j.RoomID = d.int32(f)
		case 2:
			j.Color = d.int32(f)
		}
		return d.err
	})
	return j, err
}
