// Package shutdown provides a process-wide shutdown signal with request
// accounting, so a serving loop can stop accepting work and drain what is
// already in flight.
package shutdown

import (
	"context"
	"sync"
)

// Coordinator broadcasts a one-shot shutdown signal. The zero value is not
// usable; construct with New.
type Coordinator struct {
	mu        sync.Mutex
	triggered bool
	done      chan struct{}

	inflight int
	idle     chan struct{} // closed whenever inflight == 0
}

func New() *Coordinator {
	c := &Coordinator{done: make(chan struct{})}
	c.idle = closedChan()
	return c
}

// Trigger flips the coordinator into the shutting-down state and releases
// every waiter. It reports whether this call performed the transition; later
// calls are no-ops.
func (c *Coordinator) Trigger() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered {
		return false
	}
	c.triggered = true
	close(c.done)
	return true
}

func (c *Coordinator) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

// Done returns a channel closed once Trigger has been called.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until Trigger is called. It returns immediately if the
// coordinator has already been triggered.
func (c *Coordinator) Wait() {
	<-c.Done()
}

// WaitContext is Wait bounded by ctx.
func (c *Coordinator) WaitContext(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin registers one unit of in-flight work. It returns ok=false once the
// coordinator is triggered; otherwise the caller must invoke done exactly
// once when the work completes.
func (c *Coordinator) Begin() (done func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered {
		return func() {}, false
	}
	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++

	var once sync.Once
	return func() { once.Do(c.end) }, true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
}

// InFlight reports the number of registered, unfinished units of work.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Drain waits until no work is in flight or ctx ends. In-flight work is
// never cancelled; callers pick the deadline.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset returns the coordinator to its initial state. Test use only; work
// still in flight keeps its accounting.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered {
		c.triggered = false
		c.done = make(chan struct{})
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
