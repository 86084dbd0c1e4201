package spool

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type mockConnection struct {
	id       int
	closed   chan struct{}
	once     *sync.Once
	isClosed int32
	draining int32
	drains   int32
	closes   int32
	drainErr error
	panics   bool
}

func newMockConnection(id int, drainErr error) *mockConnection {
	return &mockConnection{
		id:       id,
		closed:   make(chan struct{}),
		once:     &sync.Once{},
		drainErr: drainErr,
	}
}

func (mc *mockConnection) IsClosed() bool {
	return atomic.LoadInt32(&mc.isClosed) == 1
}

func (mc *mockConnection) IsDraining() bool {
	return atomic.LoadInt32(&mc.draining) == 1 && !mc.IsClosed()
}

func (mc *mockConnection) Closed() <-chan struct{} {
	return mc.closed
}

func (mc *mockConnection) Drain() error {
	atomic.AddInt32(&mc.drains, 1)
	atomic.StoreInt32(&mc.draining, 1)
	mc.kill()
	if mc.panics {
		panic("drain blew up")
	}
	return mc.drainErr
}

func (mc *mockConnection) Close() error {
	atomic.AddInt32(&mc.closes, 1)
	mc.kill()
	return nil
}

// kill closes the connection the way a server disconnect would.
func (mc *mockConnection) kill() {
	atomic.StoreInt32(&mc.isClosed, 1)
	mc.once.Do(func() { close(mc.closed) })
}

// markClosed makes the connection report closed without delivering the close notification.
func (mc *mockConnection) markClosed() {
	atomic.StoreInt32(&mc.isClosed, 1)
}

func (mc *mockConnection) drainCount() int32 { return atomic.LoadInt32(&mc.drains) }
func (mc *mockConnection) closeCount() int32 { return atomic.LoadInt32(&mc.closes) }

type mockTransport struct {
	lock        *sync.Mutex
	conns       []*mockConnection
	connects    int32
	err         error
	drainErr    error
	drainPanic  bool
	deadOnDial  bool
	delay       time.Duration
	gate        chan struct{}
	lastOptions ConnectionOptions
}

func newMockTransport() *mockTransport {
	return &mockTransport{lock: &sync.Mutex{}}
}

func (mt *mockTransport) Connect(ctx context.Context, options ConnectionOptions) (Connection, error) {
	atomic.AddInt32(&mt.connects, 1)

	if mt.delay > 0 {
		time.Sleep(mt.delay)
	}

	if mt.gate != nil {
		select {
		case <-mt.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	mt.lock.Lock()
	defer mt.lock.Unlock()

	if mt.err != nil {
		return nil, mt.err
	}

	conn := newMockConnection(len(mt.conns)+1, mt.drainErr)
	conn.panics = mt.drainPanic
	mt.conns = append(mt.conns, conn)
	if mt.deadOnDial {
		conn.kill()
	}
	mt.lastOptions = options

	return conn, nil
}

func (mt *mockTransport) setErr(err error) {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	mt.err = err
}

func (mt *mockTransport) connectCount() int {
	return int(atomic.LoadInt32(&mt.connects))
}

func (mt *mockTransport) conn(i int) *mockConnection {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	return mt.conns[i]
}

func (mt *mockTransport) connCount() int {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	return len(mt.conns)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestPool(t *testing.T, idle time.Duration) (*ConnectionPool, *mockTransport) {
	return newTestPoolWithTransport(t, idle, newMockTransport(), nil)
}

func newTestPoolWithTransport(t *testing.T, idle time.Duration, transport *mockTransport, errorHandler func(error)) (*ConnectionPool, *mockTransport) {
	t.Helper()

	config := &PoolConfig{
		ApplicationName:        "spool-test",
		IdleTimeoutInterval:    uint32(idle / time.Millisecond),
		ConnectTimeoutInterval: 1000,
	}

	cp, err := NewConnectionPoolWithHandlers(config, transport, errorHandler, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	return cp, transport
}
