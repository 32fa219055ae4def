// Package handle implements cancellation handles for scheduled work.
//
// A Handle moves from active to cancelled exactly once. A Composite owns child
// resources (timers, nested handles) that are released when it is cancelled;
// composing onto an already-cancelled Composite releases the child right away.
package handle

import (
	"sync"
	"sync/atomic"
)

// Handle is the right to prevent or stop one scheduled unit of work.
//
// Cancel is idempotent and safe to call from any goroutine, including from
// inside the lane that runs the work.
type Handle interface {
	Cancel()
	IsCancelled() bool
}

// Composite is a Handle that owns child handles.
//
// The zero value is an active Composite with no children.
type Composite struct {
	cancelled atomic.Bool

	mu       sync.Mutex
	children []Handle
}

// NewComposite returns an active Composite owning children.
func NewComposite(children ...Handle) *Composite {
	c := &Composite{}
	for _, ch := range children {
		c.Compose(ch)
	}
	return c
}

// Cancel flips the handle to cancelled and releases owned children.
// Only the first call releases anything.
func (c *Composite) Cancel() {
	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		return
	}
	c.cancelled.Store(true)
	children := c.children
	c.children = nil
	c.mu.Unlock()

	// Released outside the lock: a child may call back into c.
	for _, ch := range children {
		ch.Cancel()
	}
}

func (c *Composite) IsCancelled() bool { return c.cancelled.Load() }

// Compose attaches child to c. If c is already cancelled the child is
// cancelled synchronously before Compose returns.
func (c *Composite) Compose(child Handle) {
	if child == nil {
		return
	}
	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		child.Cancel()
		return
	}
	c.children = append(c.children, child)
	c.mu.Unlock()
}

// Len returns the number of children currently owned.
func (c *Composite) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

// Func adapts a release function into a Handle. The function runs at most once.
func Func(release func()) Handle {
	return &funcHandle{release: release}
}

type funcHandle struct {
	once      sync.Once
	cancelled atomic.Bool
	release   func()
}

func (f *funcHandle) Cancel() {
	f.once.Do(func() {
		f.cancelled.Store(true)
		if f.release != nil {
			f.release()
		}
	})
}

func (f *funcHandle) IsCancelled() bool { return f.cancelled.Load() }

// Empty returns an active Handle with nothing to release. Work items that
// schedule nothing further return it.
func Empty() Handle { return Func(nil) }

// Cancelled returns a Handle that is already cancelled.
func Cancelled() Handle {
	h := Func(nil)
	h.Cancel()
	return h
}
