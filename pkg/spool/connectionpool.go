package spool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ConnectionPool shares one live connection per logical key between any number of handles.
// A connection nobody holds is drained after the idle timeout. A connection whose options
// changed, or that closed underneath the pool, is replaced on the next Acquire.
type ConnectionPool struct {
	Config             PoolConfig
	transport          Transport
	idleTimeout        time.Duration
	connectTimeout     time.Duration
	maxAcquireAttempts int
	entries            map[string]*connectionEntry
	entrySeq           uint64
	poolLock           *sync.Mutex
	shutdown           bool
	connects           *singleflight.Group
	closer             *closer
	leaks              *LeakDetector
	errorHandler       func(error)
	log                logrus.FieldLogger

	connectCount    uint64
	connectFailures uint64
	evictions       uint64
	replacements    uint64
}

// NewConnectionPool creates a ConnectionPool connecting through transport.
func NewConnectionPool(config *PoolConfig, transport Transport) (*ConnectionPool, error) {
	return NewConnectionPoolWithHandlers(config, transport, nil, nil)
}

// NewConnectionPoolWithErrorHandler creates a ConnectionPool that reports background close/drain failures to errorHandler.
func NewConnectionPoolWithErrorHandler(config *PoolConfig, transport Transport, errorHandler func(error)) (*ConnectionPool, error) {
	return NewConnectionPoolWithHandlers(config, transport, errorHandler, nil)
}

// NewConnectionPoolWithHandlers creates a ConnectionPool with an error handler and/or logger.
// A nil config uses DefaultPoolConfig, a nil logger the logrus standard logger.
func NewConnectionPoolWithHandlers(
	config *PoolConfig,
	transport Transport,
	errorHandler func(error),
	logger logrus.FieldLogger) (*ConnectionPool, error) {

	if transport == nil {
		return nil, errors.New("connectionpool transport can't be nil")
	}

	if config == nil {
		config = DefaultPoolConfig()
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cp := &ConnectionPool{
		Config:             *config,
		transport:          transport,
		idleTimeout:        config.idleTimeout(),
		connectTimeout:     config.connectTimeout(),
		maxAcquireAttempts: config.maxAcquireAttempts(),
		entries:            make(map[string]*connectionEntry),
		poolLock:           &sync.Mutex{},
		connects:           &singleflight.Group{},
		errorHandler:       errorHandler,
		log:                logger,
	}

	cp.leaks = newLeakDetector(cp.release, logger)
	cp.closer = newCloser(cp.processClose)

	return cp, nil
}

// Acquire returns a handle to the pooled connection for logicalKey, connecting first when
// there is none, when the pooled one has closed, or when raw no longer fingerprints the same.
// Concurrent acquirers of the same key and options share a single connect.
// A failed connect returns a *ConnectError and leaves the pool unchanged.
// Only connections that die before they are handed out count against MaxAcquireAttempts.
func (cp *ConnectionPool) Acquire(ctx context.Context, logicalKey string, raw RawOptions) (*ConnectionHandle, error) {

	options, fingerprint := NormalizeOptions(raw)

	for attempt := 1; ; attempt++ {

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cp.poolLock.Lock()
		if cp.shutdown {
			cp.poolLock.Unlock()
			return nil, ErrConnectionPoolClosed
		}

		if entry := cp.lookupLocked(logicalKey, fingerprint); entry != nil {
			handle := cp.retainLocked(entry)
			cp.poolLock.Unlock()
			return handle, nil
		}
		cp.poolLock.Unlock()

		entry, err := cp.connect(ctx, logicalKey, options, fingerprint)
		if err != nil {
			return nil, err
		}

		// Recompare, the fresh entry may have been replaced or closed before we got the lock.
		cp.poolLock.Lock()
		if !cp.shutdown && cp.isCurrentLocked(entry) && entry.usable() {
			handle := cp.retainLocked(entry)
			cp.poolLock.Unlock()
			return handle, nil
		}
		replaced := entry.replaced
		cp.poolLock.Unlock()

		// Other options took the key before we retained. Nothing failed, connect again for ours.
		if replaced {
			attempt--
			continue
		}

		if attempt >= cp.maxAcquireAttempts {
			return nil, &ConnectError{Key: logicalKey, Err: ErrConnectionClosed}
		}
	}
}

// Use acquires a handle, runs fn with its connection and always releases the handle.
func (cp *ConnectionPool) Use(ctx context.Context, logicalKey string, raw RawOptions, fn func(Connection) error) error {

	handle, err := cp.Acquire(ctx, logicalKey, raw)
	if err != nil {
		return err
	}
	defer handle.Release()

	return fn(handle.Connection())
}

// lookupLocked returns the reusable entry for key, evicting it first if its options changed or it closed.
func (cp *ConnectionPool) lookupLocked(logicalKey string, fingerprint Fingerprint) *connectionEntry {

	entry, ok := cp.entries[logicalKey]
	if !ok {
		return nil
	}

	if entry.fingerprint != fingerprint {
		cp.removeLocked(entry)
		entry.replaced = true
		atomic.AddUint64(&cp.replacements, 1)

		cp.log.WithField("key", logicalKey).
			WithField("entry", entry.id.String()).
			Info("connection options changed, replacing pooled connection")

		cp.closer.enqueue(&closeRequest{id: entry.id, conn: entry.conn})
		return nil
	}

	if !entry.usable() {
		cp.removeLocked(entry)

		cp.log.WithField("key", logicalKey).
			WithField("entry", entry.id.String()).
			Debug("pooled connection is closed, replacing")

		return nil
	}

	return entry
}

func (cp *ConnectionPool) isCurrentLocked(entry *connectionEntry) bool {
	current, ok := cp.entries[entry.id.Key]
	return ok && current.id == entry.id
}

func (cp *ConnectionPool) removeLocked(entry *connectionEntry) {
	if cp.isCurrentLocked(entry) {
		delete(cp.entries, entry.id.Key)
	}
	entry.disarm()
}

func (cp *ConnectionPool) retainLocked(entry *connectionEntry) *ConnectionHandle {

	entry.retain()

	token := &releaseToken{
		entry:    entry.id,
		handleID: uuid.New().String(),
	}

	handle := newConnectionHandle(cp, entry.conn, token)
	cp.leaks.Track(handle)

	return handle
}

// connect joins (or starts) the single in-flight connect for these options.
// The caller's ctx only bounds the wait; the connect itself is bounded by the connect timeout.
func (cp *ConnectionPool) connect(
	ctx context.Context,
	logicalKey string,
	options ConnectionOptions,
	fingerprint Fingerprint) (*connectionEntry, error) {

	results := cp.connects.DoChan(logicalKey+"\x00"+string(fingerprint), func() (interface{}, error) {
		return cp.dial(logicalKey, options, fingerprint)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*connectionEntry), nil
	}
}

// dial connects and installs a new entry with no references and its idle timer armed,
// so a connect whose waiters all gave up is still evicted.
func (cp *ConnectionPool) dial(logicalKey string, options ConnectionOptions, fingerprint Fingerprint) (*connectionEntry, error) {

	cp.poolLock.Lock()
	if cp.shutdown {
		cp.poolLock.Unlock()
		return nil, ErrConnectionPoolClosed
	}
	if entry := cp.lookupLocked(logicalKey, fingerprint); entry != nil {
		cp.poolLock.Unlock()
		return entry, nil
	}
	cp.poolLock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cp.connectTimeout)
	defer cancel()

	conn, err := cp.transport.Connect(ctx, options)
	if err != nil {
		atomic.AddUint64(&cp.connectFailures, 1)
		cp.log.WithField("key", logicalKey).WithError(err).Debug("connect failed")
		return nil, &ConnectError{Key: logicalKey, Err: err}
	}
	atomic.AddUint64(&cp.connectCount, 1)

	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	if cp.shutdown {
		cp.closer.enqueue(&closeRequest{id: EntryID{Key: logicalKey}, conn: conn})
		return nil, ErrConnectionPoolClosed
	}

	if existing := cp.lookupLocked(logicalKey, fingerprint); existing != nil {
		cp.closer.enqueue(&closeRequest{id: EntryID{Key: logicalKey}, conn: conn})
		return existing, nil
	}

	cp.entrySeq++
	entry := &connectionEntry{
		id:          EntryID{Key: logicalKey, Seq: cp.entrySeq},
		conn:        conn,
		fingerprint: fingerprint,
	}

	cp.entries[logicalKey] = entry
	cp.armLocked(entry)

	go cp.watchClosed(entry)

	cp.log.WithField("key", logicalKey).
		WithField("entry", entry.id.String()).
		Debug("connected")

	return entry, nil
}

// watchClosed drops the entry as soon as its connection closes, unless it was already replaced.
func (cp *ConnectionPool) watchClosed(entry *connectionEntry) {

	<-entry.conn.Closed()

	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	if cp.isCurrentLocked(entry) {
		cp.removeLocked(entry)

		cp.log.WithField("key", entry.id.Key).
			WithField("entry", entry.id.String()).
			Debug("connection closed, removed from pool")
	}
}

// release drops the reference held by token. Only the first call per token does anything;
// it reports whether this call was that one.
func (cp *ConnectionPool) release(token *releaseToken) bool {

	if !token.claim() {
		return false
	}

	cp.leaks.Untrack(token)

	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	entry, ok := cp.entries[token.entry.Key]
	if !ok || entry.id != token.entry {
		return true // replaced or gone
	}

	if entry.conn.IsClosed() {
		cp.removeLocked(entry)
		return true
	}

	if entry.drop() {
		cp.armLocked(entry)
	}

	return true
}

func (cp *ConnectionPool) armLocked(entry *connectionEntry) {
	entry.arm(cp.idleTimeout, func(gen uint64) {
		cp.evict(entry, gen)
	})
}

// evict runs on the idle timer. It only removes the entry if it is still idle, still current and
// the timer was not superseded.
func (cp *ConnectionPool) evict(entry *connectionEntry, gen uint64) {

	cp.poolLock.Lock()
	if !entry.evictable(gen) || !cp.isCurrentLocked(entry) {
		cp.poolLock.Unlock()
		return
	}

	delete(cp.entries, entry.id.Key)
	entry.evictTimer = nil
	cp.poolLock.Unlock()

	atomic.AddUint64(&cp.evictions, 1)

	cp.log.WithField("key", entry.id.Key).
		WithField("entry", entry.id.String()).
		Info("idle connection evicted")

	cp.closer.enqueue(&closeRequest{id: entry.id, conn: entry.conn, drain: true})
}

// processClose is the fire-and-forget cleanup; failures are reported, never returned.
func (cp *ConnectionPool) processClose(request *closeRequest) {

	if request.conn.IsClosed() {
		return
	}

	var err error
	if request.drain {
		err = request.conn.Drain()
	} else {
		err = request.conn.Close()
	}

	if err != nil {
		cp.handleError(fmt.Errorf("closing connection %s: %w", request.id, err))
	}
}

func (cp *ConnectionPool) handleError(err error) {
	cp.log.WithError(err).Error("connection pool background error")
	if cp.errorHandler != nil {
		cp.errorHandler(err)
	}
}

// ConnectionStatus is a point-in-time view of one pooled entry.
type ConnectionStatus struct {
	Exists     bool   `json:"exists"`
	ID         string `json:"id,omitempty"`
	RefCount   int    `json:"refCount"`
	IsClosed   bool   `json:"isClosed"`
	IsDraining bool   `json:"isDraining"`
	HasTimer   bool   `json:"hasTimer"`
}

// Status reports on the entry pooled under logicalKey.
func (cp *ConnectionPool) Status(logicalKey string) ConnectionStatus {

	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	entry, ok := cp.entries[logicalKey]
	if !ok {
		return ConnectionStatus{}
	}

	return ConnectionStatus{
		Exists:     true,
		ID:         entry.id.String(),
		RefCount:   entry.refCount,
		IsClosed:   entry.conn.IsClosed(),
		IsDraining: entry.conn.IsDraining(),
		HasTimer:   entry.evictTimer != nil,
	}
}

// Keys lists the logical keys currently pooled, sorted.
func (cp *ConnectionPool) Keys() []string {

	cp.poolLock.Lock()
	keys := make([]string, 0, len(cp.entries))
	for key := range cp.entries {
		keys = append(keys, key)
	}
	cp.poolLock.Unlock()

	sort.Strings(keys)
	return keys
}

// PoolStats are cumulative counters plus current gauges.
type PoolStats struct {
	Entries            int    `json:"entries"`
	OutstandingHandles int    `json:"outstandingHandles"`
	Connects           uint64 `json:"connects"`
	ConnectFailures    uint64 `json:"connectFailures"`
	Evictions          uint64 `json:"evictions"`
	Replacements       uint64 `json:"replacements"`
	ReclaimedHandles   uint64 `json:"reclaimedHandles"`
}

// Stats returns the pool counters.
func (cp *ConnectionPool) Stats() PoolStats {

	cp.poolLock.Lock()
	entries := len(cp.entries)
	cp.poolLock.Unlock()

	return PoolStats{
		Entries:            entries,
		OutstandingHandles: cp.leaks.Outstanding(),
		Connects:           atomic.LoadUint64(&cp.connectCount),
		ConnectFailures:    atomic.LoadUint64(&cp.connectFailures),
		Evictions:          atomic.LoadUint64(&cp.evictions),
		Replacements:       atomic.LoadUint64(&cp.replacements),
		ReclaimedHandles:   cp.leaks.Reclaimed(),
	}
}

// Shutdown drains every pooled connection and refuses further Acquires.
// Handles still out are unaffected; releasing them afterwards is a no-op.
func (cp *ConnectionPool) Shutdown() {

	if cp == nil {
		return
	}

	cp.poolLock.Lock()
	if cp.shutdown {
		cp.poolLock.Unlock()
		return
	}
	cp.shutdown = true

	entries := make([]*connectionEntry, 0, len(cp.entries))
	for key, entry := range cp.entries {
		entry.disarm()
		entries = append(entries, entry)
		delete(cp.entries, key)
	}
	cp.poolLock.Unlock()

	// Pending replacements and evictions go first.
	cp.closer.stop()

	wg := &sync.WaitGroup{}
	for _, entry := range entries {
		wg.Add(1)

		// Started receiving panics on Connection.Close()
		go func(entry *connectionEntry) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					cp.handleError(fmt.Errorf("draining connection %s: panic: %v", entry.id, r))
				}
			}()

			cp.processClose(&closeRequest{id: entry.id, conn: entry.conn, drain: true})
		}(entry)
	}

	wg.Wait()

	cp.log.WithField("connections", len(entries)).Debug("connection pool shut down")
}
