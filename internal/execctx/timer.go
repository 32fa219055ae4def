package execctx

import (
	"sync"
	"sync/atomic"
	"time"
)

// MinInterval is the smallest repeat interval a Timer is ever armed with.
// Callers asking for a non-positive period get this instead, which means
// "as fast as the lane lets it fire".
const MinInterval = time.Nanosecond

// TimerSpec describes when a Timer fires.
type TimerSpec struct {
	// Delay before the first fire. Non-positive fires as soon as possible,
	// still asynchronously.
	Delay time.Duration
	// Interval between fires. Non-positive means one-shot.
	Interval time.Duration
	// Leeway lets the timer push a deadline later by up to this much so that
	// timers sharing a leeway fire together. 0 is best-effort precision.
	Leeway time.Duration
}

// Timer is an armed, cancellable registration bound to a Serial.
//
// Each fire is posted onto the lane and onFire runs there. A repeating timer
// re-arms from the lane, relative to its previous deadline, before running
// onFire; deadlines that were missed while the lane was busy are coalesced
// into one fire. Timer implements handle.Handle.
type Timer struct {
	lane   Serial
	spec   TimerSpec
	onFire func()

	cancelled atomic.Bool
	fires     atomic.Uint64

	mu       sync.Mutex
	t        *time.Timer
	deadline time.Time
}

// ArmTimer arms a timer on lane.
func ArmTimer(lane Serial, spec TimerSpec, onFire func()) *Timer {
	if spec.Delay < 0 {
		spec.Delay = 0
	}
	if spec.Leeway < 0 {
		spec.Leeway = 0
	}
	tm := &Timer{lane: lane, spec: spec, onFire: onFire}

	now := time.Now()
	tm.mu.Lock()
	tm.deadline = alignLeeway(now.Add(spec.Delay), spec.Leeway)
	tm.t = time.AfterFunc(tm.deadline.Sub(now), tm.fire)
	tm.mu.Unlock()
	return tm
}

// fire runs on the runtime timer goroutine.
func (tm *Timer) fire() {
	if tm.cancelled.Load() {
		return
	}
	tm.lane.Post(tm.deliver)
}

// deliver runs on the lane.
func (tm *Timer) deliver() {
	if tm.cancelled.Load() {
		return
	}
	if tm.spec.Interval > 0 {
		tm.rearm()
	}
	tm.fires.Add(1)
	if tm.onFire != nil {
		tm.onFire()
	}
}

func (tm *Timer) rearm() {
	now := time.Now()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.cancelled.Load() {
		return
	}
	next := tm.deadline.Add(tm.spec.Interval)
	if !next.After(now) {
		// Skip the deadlines the lane was too busy to honour, keeping phase.
		missed := now.Sub(next)/tm.spec.Interval + 1
		next = next.Add(missed * tm.spec.Interval)
	}
	tm.deadline = alignLeeway(next, tm.spec.Leeway)
	tm.t = time.AfterFunc(tm.deadline.Sub(now), tm.fire)
}

// Cancel stops the timer. A fire already posted to the lane becomes a no-op.
func (tm *Timer) Cancel() {
	if tm.cancelled.Swap(true) {
		return
	}
	tm.mu.Lock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.mu.Unlock()
}

func (tm *Timer) IsCancelled() bool { return tm.cancelled.Load() }

// Fires returns how many times onFire has been started.
func (tm *Timer) Fires() uint64 { return tm.fires.Load() }

// Spec returns the spec the timer was armed with, after normalization.
func (tm *Timer) Spec() TimerSpec { return tm.spec }

// Deadline returns the next (or last, once cancelled) fire instant.
func (tm *Timer) Deadline() time.Time {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.deadline
}

func alignLeeway(t time.Time, leeway time.Duration) time.Time {
	if leeway <= 0 {
		return t
	}
	if r := time.Duration(t.UnixNano() % int64(leeway)); r != 0 {
		return t.Add(leeway - r)
	}
	return t
}
