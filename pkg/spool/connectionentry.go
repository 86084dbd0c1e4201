package spool

import (
	"strconv"
	"time"
)

// EntryID identifies one physical connection installed under a logical key.
// Seq grows monotonically per pool, so a stale timer or token never matches a newer entry.
type EntryID struct {
	Key string
	Seq uint64
}

func (id EntryID) String() string {
	return id.Key + "-" + strconv.FormatUint(id.Seq, 10)
}

// connectionEntry is the pool's record of one physical connection.
// Every field except id, conn and fingerprint is guarded by the pool lock.
type connectionEntry struct {
	id          EntryID
	conn        Connection
	fingerprint Fingerprint
	refCount    int

	// replaced is set when a different fingerprint took over the key.
	replaced bool

	// evictTimer is armed only while refCount == 0.
	evictTimer *time.Timer
	evictGen   uint64
}

// retain adds a reference, disarming a pending eviction on the 0 -> 1 transition.
func (ce *connectionEntry) retain() {
	ce.refCount++
	if ce.refCount == 1 {
		ce.disarm()
	}
}

// drop removes a reference and reports whether the entry became idle. Never goes below zero.
func (ce *connectionEntry) drop() bool {
	if ce.refCount == 0 {
		return false
	}
	ce.refCount--
	return ce.refCount == 0
}

// arm schedules fire after idle and returns the generation the callback must present.
func (ce *connectionEntry) arm(idle time.Duration, fire func(gen uint64)) {
	ce.disarm()
	ce.evictGen++
	gen := ce.evictGen
	ce.evictTimer = time.AfterFunc(idle, func() { fire(gen) })
}

// disarm stops a pending eviction. A callback already running is invalidated by the generation bump.
func (ce *connectionEntry) disarm() {
	if ce.evictTimer != nil {
		ce.evictTimer.Stop()
		ce.evictTimer = nil
		ce.evictGen++
	}
}

// evictable reports whether a timer of generation gen may still evict this entry.
func (ce *connectionEntry) evictable(gen uint64) bool {
	return ce.refCount == 0 && ce.evictTimer != nil && ce.evictGen == gen
}

func (ce *connectionEntry) usable() bool {
	return !ce.conn.IsClosed() && !ce.conn.IsDraining()
}
