package execctx

import "time"

// Concurrent runs callbacks asynchronously. Callbacks may overlap and may run
// in any order. RunAsync must not block the caller.
type Concurrent interface {
	RunAsync(fn func())
}

// Serial runs callbacks asynchronously, at most one at a time, in the order
// Post accepted them. Post must not block the caller and must never run fn
// inline.
type Serial interface {
	Post(fn func())
}

// ConcurrentFunc adapts a function into a Concurrent.
type ConcurrentFunc func(fn func())

func (f ConcurrentFunc) RunAsync(fn func()) { f(fn) }

// SerialFunc adapts the submit function of an existing serial executor
// (an event loop, another lane) into a Serial. The caller vouches for the
// ordering guarantee.
type SerialFunc func(fn func())

func (f SerialFunc) Post(fn func()) { f(fn) }

type goContext struct{}

func (goContext) RunAsync(fn func()) { go fn() }

// Go is the Concurrent that runs every callback on a fresh goroutine.
// A panic in such a callback is not recovered and crashes the process.
var Go Concurrent = goContext{}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// WallClock reads time.Now.
var WallClock Clock = ClockFunc(time.Now)
