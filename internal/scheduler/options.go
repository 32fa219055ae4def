package scheduler

import (
	"time"

	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	logx "lanesched/pkg/logx"
)

type options struct {
	name       string
	clock      execctx.Clock
	leeway     time.Duration
	log        logx.Logger
	bus        eventbus.Bus
	laneConfig func(*execctx.Lane)
}

type Option func(*options)

// WithName names the scheduler (and the lane it creates, if any).
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithClock replaces the Now accessor. Timers still run on wall time.
func WithClock(c execctx.Clock) Option { return func(o *options) { o.clock = c } }

// WithLeeway sets the tolerance timers may use to batch nearby fires.
func WithLeeway(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.leeway = d
	}
}

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithBus publishes sched.scheduled / sched.cancelled events.
func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithLaneConfig exposes a lane created by New or NewConcurrent to fn before
// anything is posted to it. It has no effect on NewSerial.
func WithLaneConfig(fn func(*execctx.Lane)) Option {
	return func(o *options) { o.laneConfig = fn }
}

func resolve(opts []Option) options {
	o := options{name: "scheduler", clock: execctx.WallClock}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.clock == nil {
		o.clock = execctx.WallClock
	}
	return o
}
