package endpoint_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"battleserver/internal/endpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	data   chan []byte
	closed chan struct{}
	lost   chan error
	fail   error
}

func newRecorder() *recorder {
	return &recorder{
		data:   make(chan []byte, 16),
		closed: make(chan struct{}, 1),
		lost:   make(chan error, 1),
	}
}

func (r *recorder) OnData(data []byte) error {
	if r.fail != nil {
		return r.fail
	}
	r.data <- data
	return nil
}

func (r *recorder) OnConnectionClosed()        { r.closed <- struct{}{} }
func (r *recorder) OnConnectionLost(err error) { r.lost <- err }

func pipe(t *testing.T) (endpoint.Transport, endpoint.Transport) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return endpoint.NewConnTransport(a, 0), endpoint.NewConnTransport(b, 0)
}

func TestConnTransport_RoundTrip(t *testing.T) {
	local, remote := pipe(t)

	sizes := []int{0, 1, 65535}
	go func() {
		for _, n := range sizes {
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i)
			}
			remote.WriteFrame(payload)
		}
	}()

	for _, n := range sizes {
		got, err := local.ReadFrame()
		require.NoError(t, err)
		require.Len(t, got, n)
		if n > 0 {
			assert.Equal(t, byte(n-1), got[n-1])
		}
	}
}

func TestConnTransport_ReadErrors(t *testing.T) {
	t.Run("eof before header", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		b.Close()

		_, err := endpoint.NewConnTransport(a, 0).ReadFrame()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated header", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		go func() {
			b.Write([]byte{0, 0})
			b.Close()
		}()

		_, err := endpoint.NewConnTransport(a, 0).ReadFrame()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		go func() {
			b.Write([]byte{0, 0, 0, 8})
			b.Close()
		}()

		_, err := endpoint.NewConnTransport(a, 0).ReadFrame()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("too large", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()
		go b.Write([]byte{0, 0x20, 0, 0})

		_, err := endpoint.NewConnTransport(a, 0).ReadFrame()
		assert.ErrorIs(t, err, endpoint.ErrFrameTooLarge)
	})
}

func TestEndpoint_WritesInOrder(t *testing.T) {
	local, remote := pipe(t)
	e := endpoint.New(local, zap.NewNop())
	h := newRecorder()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background(), h) }()

	for _, s := range []string{"a", "b", "c"} {
		e.Put([]byte(s))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := remote.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	e.Terminate()
	e.Terminate()
	select {
	case <-e.Done():
	default:
		t.Fatal("endpoint not done after Terminate")
	}
	require.NoError(t, <-runErr)
	assert.Empty(t, h.closed)
	assert.Empty(t, h.lost)
}

func TestEndpoint_Flush(t *testing.T) {
	local, remote := pipe(t)
	e := endpoint.New(local, zap.NewNop())
	go e.Run(context.Background(), newRecorder())
	defer e.Terminate()

	e.Put([]byte("one"))
	e.Put([]byte("two"))

	read := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			b, err := remote.ReadFrame()
			if err != nil {
				return
			}
			read <- string(b)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
	// Flush が返った時点で前のフレームは書き込み済み
	require.Eventually(t, func() bool { return len(read) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "one", <-read)
	assert.Equal(t, "two", <-read)
}

func TestEndpoint_FlushAfterTerminate(t *testing.T) {
	local, _ := pipe(t)
	e := endpoint.New(local, zap.NewNop())
	e.Terminate()

	assert.NoError(t, e.Flush(context.Background()))
}

func TestEndpoint_DispatchesAndReportsClose(t *testing.T) {
	local, remote := pipe(t)
	e := endpoint.New(local, zap.NewNop())
	h := newRecorder()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background(), h) }()

	require.NoError(t, remote.WriteFrame([]byte("hello")))
	assert.Equal(t, "hello", string(<-h.data))

	remote.Close()
	select {
	case <-h.closed:
	case <-time.After(time.Second):
		t.Fatal("OnConnectionClosed not called")
	}
	require.NoError(t, <-runErr)
	assert.Empty(t, h.lost)
}

func TestEndpoint_HandlerErrorIsLost(t *testing.T) {
	local, remote := pipe(t)
	e := endpoint.New(local, zap.NewNop())
	h := newRecorder()
	h.fail = errors.New("bad payload")

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background(), h) }()

	require.NoError(t, remote.WriteFrame([]byte{0xff}))
	select {
	case err := <-h.lost:
		assert.ErrorIs(t, err, h.fail)
	case <-time.After(time.Second):
		t.Fatal("OnConnectionLost not called")
	}
	assert.ErrorIs(t, <-runErr, h.fail)
	assert.Empty(t, h.closed)
}

func TestEndpoint_ContextCancelTerminates(t *testing.T) {
	local, _ := pipe(t)
	e := endpoint.New(local, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx, newRecorder()) }()

	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-e.Done():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, <-runErr)
}

func TestEndpoint_WriteFailureTerminates(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	e := endpoint.New(endpoint.NewConnTransport(a, 8), zap.NewNop())
	h := newRecorder()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background(), h) }()

	e.Put(make([]byte, 32))

	select {
	case err := <-h.lost:
		assert.ErrorIs(t, err, endpoint.ErrFrameTooLarge)
	case <-time.After(2 * time.Second):
		t.Fatal("endpoint still running after the writer failed")
	}
	assert.ErrorIs(t, <-runErr, endpoint.ErrFrameTooLarge)
	select {
	case <-e.Done():
	default:
		t.Fatal("endpoint not terminated")
	}
	assert.Empty(t, h.closed)
}
