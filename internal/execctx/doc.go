// Package execctx provides the execution contexts lanesched schedules onto.
//
// There are two flavours:
//   - Concurrent: runs callbacks asynchronously with no ordering guarantee
//     (Go, Pool).
//   - Serial: runs callbacks one at a time in acceptance order (Lane,
//     SerialFunc).
//
// A Lane is the bridge between them: it accepts posts without blocking,
// queues them in FIFO order and drains them on a Concurrent target with at
// most one drain in flight. Timers fire onto a Serial so their callbacks are
// serialized with everything else on that lane.
package execctx
