package spool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryIDString(t *testing.T) {
	assert.Equal(t, "orders-7", EntryID{Key: "orders", Seq: 7}.String())
}

func TestEntryDropNeverGoesNegative(t *testing.T) {

	entry := &connectionEntry{conn: newMockConnection(1, nil)}

	assert.False(t, entry.drop())
	assert.Equal(t, 0, entry.refCount)

	entry.retain()
	entry.retain()
	assert.False(t, entry.drop())
	assert.True(t, entry.drop())
	assert.False(t, entry.drop())
	assert.Equal(t, 0, entry.refCount)
}

func TestEntryRetainDisarmsTimer(t *testing.T) {

	var fired int32
	entry := &connectionEntry{conn: newMockConnection(1, nil)}

	entry.arm(20*time.Millisecond, func(uint64) { atomic.AddInt32(&fired, 1) })
	assert.NotNil(t, entry.evictTimer)

	entry.retain()
	assert.Nil(t, entry.evictTimer)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestEntryStaleGenerationIsNotEvictable(t *testing.T) {

	entry := &connectionEntry{conn: newMockConnection(1, nil)}
	gens := make(chan uint64, 2)

	entry.arm(time.Hour, func(gen uint64) { gens <- gen })
	first := entry.evictGen

	entry.arm(time.Hour, func(gen uint64) { gens <- gen })
	second := entry.evictGen

	assert.False(t, entry.evictable(first))
	assert.True(t, entry.evictable(second))

	entry.disarm()
	assert.False(t, entry.evictable(second))

	entry.arm(time.Millisecond, func(gen uint64) { gens <- gen })
	gen := <-gens
	assert.True(t, entry.evictable(gen))

	entry.retain()
	assert.False(t, entry.evictable(gen))
}

func TestEntryUsable(t *testing.T) {

	conn := newMockConnection(1, nil)
	entry := &connectionEntry{conn: conn}
	assert.True(t, entry.usable())

	conn.markClosed()
	assert.False(t, entry.usable())

	draining := newMockConnection(2, nil)
	draining.draining = 1
	assert.False(t, (&connectionEntry{conn: draining}).usable())
}
