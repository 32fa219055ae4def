package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle gates repeated log lines with a token bucket.
//
// Suppressed lines are counted and reported on the next line that passes,
// as a "suppressed" field.
type Throttle struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle allows perSec lines per second with a burst of burst lines.
// perSec <= 0 means one line per second.
func NewThrottle(perSec float64, burst int) *Throttle {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Allow reports whether a line may be written now. A nil Throttle always allows.
func (t *Throttle) Allow() bool {
	if t == nil {
		return true
	}
	if t.lim.Allow() {
		return true
	}
	t.suppressed.Add(1)
	return false
}

// Warn writes a warning through l if the bucket allows it.
func (t *Throttle) Warn(l Logger, msg string, fields ...Field) {
	if !t.Allow() {
		return
	}
	if t != nil {
		if n := t.suppressed.Swap(0); n > 0 {
			fields = append(fields, Uint64("suppressed", n))
		}
	}
	l.Warn(msg, fields...)
}

// Suppressed returns the number of lines dropped since the last written one.
func (t *Throttle) Suppressed() uint64 {
	if t == nil {
		return 0
	}
	return t.suppressed.Load()
}
