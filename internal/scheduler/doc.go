// Package scheduler provides a serializing scheduler.
//
// A Scheduler owns one serial lane for its whole life. Everything it runs,
// whether immediate, delayed or periodic, executes on that lane: one work
// item at a time, immediate items in submission order, delayed items no
// earlier than their due time. Every submission returns a handle.Handle;
// cancelling it before the work starts prevents the work, cancelling a
// periodic schedule stops later occurrences. A run that is already in
// progress is never interrupted.
//
// Work item panics are not recovered here. They surface on whatever owns the
// lane's goroutine (see execctx.Go and execctx.Pool).
package scheduler
