package spool

import (
	"runtime"
	"sync"
)

// ConnectionHandle is a caller's claim on a pooled Connection.
// Release it when done; a handle dropped without Release is eventually reclaimed by the LeakDetector.
type ConnectionHandle struct {
	pool  *ConnectionPool
	conn  Connection
	token *releaseToken
	lock  *sync.Mutex
}

func newConnectionHandle(pool *ConnectionPool, conn Connection, token *releaseToken) *ConnectionHandle {
	return &ConnectionHandle{
		pool:  pool,
		conn:  conn,
		token: token,
		lock:  &sync.Mutex{},
	}
}

// Connection returns the shared connection, or nil once the handle has been released.
func (h *ConnectionHandle) Connection() Connection {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.conn
}

// EntryID identifies the pooled entry this handle references.
func (h *ConnectionHandle) EntryID() EntryID {
	return h.token.entry
}

// Released reports whether Release has been called.
func (h *ConnectionHandle) Released() bool {
	return h.Connection() == nil
}

// Release returns the handle's reference to the pool. Calling it again is a no-op.
func (h *ConnectionHandle) Release() {
	h.lock.Lock()
	h.conn = nil
	h.lock.Unlock()

	h.pool.release(h.token)

	// The leak detector must not see h as unreachable while the release is in progress.
	runtime.KeepAlive(h)
}

// Close implements io.Closer so a handle can be deferred like any other resource.
func (h *ConnectionHandle) Close() error {
	h.Release()
	return nil
}
