package spool

import (
	"runtime"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"
)

// releaseToken is what a handle (or the leak detector on its behalf) presents to release.
// It must never reference the handle, or the handle could not become unreachable.
type releaseToken struct {
	entry    EntryID
	handleID string
	released int32
}

// claim reports true exactly once.
func (rt *releaseToken) claim() bool {
	return atomic.CompareAndSwapInt32(&rt.released, 0, 1)
}

// LeakDetector releases handles that became unreachable without Release being called.
// It is a safety net: reclaims happen after a garbage collection, at no particular time.
type LeakDetector struct {
	registrations cmap.ConcurrentMap // handleID -> runtime.Cleanup
	release       func(*releaseToken) bool
	reclaimed     uint64
	log           logrus.FieldLogger
}

func newLeakDetector(release func(*releaseToken) bool, log logrus.FieldLogger) *LeakDetector {
	return &LeakDetector{
		registrations: cmap.New(),
		release:       release,
		log:           log,
	}
}

// Track registers the handle. Must be called before the handle is visible to anyone else.
func (ld *LeakDetector) Track(handle *ConnectionHandle) {
	cleanup := runtime.AddCleanup(handle, ld.reclaim, handle.token)
	ld.registrations.Set(handle.token.handleID, cleanup)
}

// Untrack removes the registration of an explicitly released token. Idempotent.
func (ld *LeakDetector) Untrack(token *releaseToken) {
	if value, ok := ld.registrations.Pop(token.handleID); ok {
		if cleanup, ok := value.(runtime.Cleanup); ok {
			cleanup.Stop()
		}
	}
}

func (ld *LeakDetector) reclaim(token *releaseToken) {
	ld.registrations.Remove(token.handleID)

	if ld.release(token) {
		atomic.AddUint64(&ld.reclaimed, 1)
		ld.log.WithField("entry", token.entry.String()).
			WithField("handle", token.handleID).
			Warn("connection handle was garbage collected without Release, reclaimed")
	}
}

// Outstanding is the number of handles currently tracked (acquired and not yet released).
func (ld *LeakDetector) Outstanding() int {
	return ld.registrations.Count()
}

// Reclaimed is the number of handles released by the detector instead of their owner.
func (ld *LeakDetector) Reclaimed() uint64 {
	return atomic.LoadUint64(&ld.reclaimed)
}
