package spool

import (
	"sync"

	"github.com/Workiva/go-datastructures/queue"
)

type closeRequest struct {
	id    EntryID
	conn  Connection
	drain bool
}

// stopRequest marks the end of the work a closer must finish before stopping.
type stopRequest struct{}

// closer performs fire-and-forget closes and drains off the acquire/release path.
type closer struct {
	work    *queue.Queue
	wg      *sync.WaitGroup
	lock    *sync.Mutex
	stopped bool
	process func(*closeRequest)
}

func newCloser(process func(*closeRequest)) *closer {
	c := &closer{
		work:    queue.New(16),
		wg:      &sync.WaitGroup{},
		lock:    &sync.Mutex{},
		process: process,
	}

	c.wg.Add(1)
	go c.loop()

	return c
}

func (c *closer) loop() {
	defer c.wg.Done()

	for {
		items, err := c.work.Get(1) // Pauses here until work arrives or the queue is disposed.
		if err != nil {
			return
		}

		switch request := items[0].(type) {
		case *closeRequest:
			c.process(request)
		case stopRequest:
			return
		}
	}
}

// enqueue never blocks. Once the closer is stopped the request runs on its own goroutine.
func (c *closer) enqueue(request *closeRequest) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stopped {
		go c.process(request)
		return
	}

	if err := c.work.Put(request); err != nil {
		go c.process(request)
	}
}

// stop finishes every queued request and waits for the worker to exit.
func (c *closer) stop() {
	c.lock.Lock()
	if c.stopped {
		c.lock.Unlock()
		return
	}
	c.stopped = true
	err := c.work.Put(stopRequest{}) // last item, nothing is queued after it
	c.lock.Unlock()

	if err == nil {
		c.wg.Wait()
	}

	c.work.Dispose()
	c.wg.Wait()
}
