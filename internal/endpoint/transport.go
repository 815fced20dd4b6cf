package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxFrameSize is the default upper bound for one payload.
const MaxFrameSize = 1 << 20

const headerSize = 4

var ErrFrameTooLarge = errors.New("endpoint: frame too large")

// Transport moves whole frames. ReadFrame returns io.EOF only when the peer
// closed cleanly between frames.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
	RemoteAddr() string
}

// connTransport は 4 バイトのビッグエンディアン長プレフィックスでフレームを区切る
type connTransport struct {
	conn     net.Conn
	maxFrame int
}

// NewConnTransport frames a stream connection. maxFrame <= 0 selects MaxFrameSize.
func NewConnTransport(conn net.Conn, maxFrame int) Transport {
	if maxFrame <= 0 {
		maxFrame = MaxFrameSize
	}
	return &connTransport{conn: conn, maxFrame: maxFrame}
}

func (t *connTransport) ReadFrame() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		// ヘッダーの途中で切れた場合は ErrUnexpectedEOF になる
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if uint64(n) > uint64(t.maxFrame) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(t.conn, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

func (t *connTransport) WriteFrame(data []byte) error {
	if len(data) > t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[headerSize:], data)
	_, err := t.conn.Write(buf)
	return err
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

func (t *connTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
	writeWait  = 5 * time.Second
)

// wsTransport maps one frame to one binary WebSocket message.
type wsTransport struct {
	conn      *websocket.Conn
	maxFrame  int
	closeOnce sync.Once
	stop      chan struct{}
}

// NewWebSocketTransport wraps an upgraded connection and keeps it alive with
// periodic pings.
func NewWebSocketTransport(conn *websocket.Conn, maxFrame int) Transport {
	if maxFrame <= 0 {
		maxFrame = MaxFrameSize
	}
	t := &wsTransport{conn: conn, maxFrame: maxFrame, stop: make(chan struct{})}

	conn.SetReadLimit(int64(maxFrame))
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.keepAlive()
	return t
}

// keepAlive は Close されるまで Ping を送り続ける。WriteControl は他の書き込みと並行して呼べる
func (t *wsTransport) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-t.stop:
			return
		}
	}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if len(data) > t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
