// Package endpoint drives one framed duplex connection: a reader pump that
// dispatches inbound frames to a Handler and a writer pump that drains an
// unbounded outbox in FIFO order.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"battleserver/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler receives connection events. OnData runs on the reader goroutine;
// a non-nil error drops the connection as lost.
type Handler interface {
	OnData(data []byte) error
	OnConnectionClosed()
	OnConnectionLost(err error)
}

// item は送信待ちのフレーム。flushed が非 nil のときは Flush のマーカー
type item struct {
	data    []byte
	flushed chan struct{}
}

type Endpoint struct {
	id        string
	transport Transport
	outbox    *queue.Queue[item]
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func New(transport Transport, logger *zap.Logger) *Endpoint {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		id:        id,
		transport: transport,
		outbox:    queue.New[item](),
		logger:    logger.With(zap.String("session", id), zap.String("remote", transport.RemoteAddr())),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (e *Endpoint) ID() string {
	return e.id
}

// Logger carries the session id and remote address.
func (e *Endpoint) Logger() *zap.Logger {
	return e.logger
}

// Run pumps the connection until either side stops, ctx is cancelled or
// Terminate is called, then reports the outcome to h. A local Terminate
// reports nothing.
func (e *Endpoint) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, e.Terminate)
	defer stop()

	g, gctx := errgroup.WithContext(e.ctx)
	g.Go(func() error {
		return e.readPump(h)
	})
	g.Go(func() error {
		return e.writePump(gctx)
	})
	// 片方のポンプが止まったら transport を閉じて ReadFrame を解除する
	g.Go(func() error {
		<-gctx.Done()
		if err := e.transport.Close(); err != nil && !e.terminated() {
			e.logger.Debug("close transport", zap.Error(err))
		}
		return nil
	})
	err := g.Wait()

	local := e.terminated()
	e.Terminate()
	if local {
		return nil
	}

	if errors.Is(err, io.EOF) {
		e.logger.Debug("connection closed by peer")
		h.OnConnectionClosed()
		return nil
	}
	e.logger.Debug("connection lost", zap.Error(err))
	h.OnConnectionLost(err)
	return err
}

// readPump は常に非 nil を返し、書き込み側を止める
func (e *Endpoint) readPump(h Handler) error {
	for {
		data, err := e.transport.ReadFrame()
		if err != nil {
			return err
		}
		if err := h.OnData(data); err != nil {
			return fmt.Errorf("handle frame: %w", err)
		}
	}
}

func (e *Endpoint) writePump(ctx context.Context) error {
	for {
		it, err := e.outbox.Get(ctx)
		if err != nil {
			return err
		}
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		if err := e.transport.WriteFrame(it.data); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
}

// Put enqueues one payload. It never blocks; payloads put after Terminate
// are dropped.
func (e *Endpoint) Put(data []byte) {
	if e.terminated() {
		return
	}
	e.outbox.Put(item{data: data})
}

// Flush waits until every payload put before the call has been written.
func (e *Endpoint) Flush(ctx context.Context) error {
	if e.terminated() {
		return nil
	}
	flushed := make(chan struct{})
	e.outbox.Put(item{flushed: flushed})
	select {
	case <-flushed:
		return nil
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate stops both pumps and closes the transport. Safe to call more
// than once and from any goroutine.
func (e *Endpoint) Terminate() {
	e.once.Do(func() {
		close(e.done)
		e.cancel()
		if err := e.transport.Close(); err != nil {
			e.logger.Debug("close transport", zap.Error(err))
		}
	})
}

func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

func (e *Endpoint) terminated() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
