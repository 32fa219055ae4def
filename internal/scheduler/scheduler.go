package scheduler

import (
	"sync/atomic"
	"time"

	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	"lanesched/internal/handle"
	logx "lanesched/pkg/logx"
)

// WorkItem is one-shot work. The handle it returns (if any) is absorbed into
// the handle of the schedule that ran it, so cancelling the outer schedule
// also cancels whatever the work scheduled next.
type WorkItem func(state any) handle.Handle

// PeriodicWorkItem is recurring work. Its result is the state handed to the
// next occurrence.
type PeriodicWorkItem func(state any) any

// Scheduler serializes work onto a single lane.
type Scheduler struct {
	name   string
	lane   execctx.Serial
	clock  execctx.Clock
	leeway time.Duration
	log    logx.Logger
	bus    eventbus.Bus

	scheduled atomic.Uint64
	executed  atomic.Uint64
	skipped   atomic.Uint64
}

// New creates a scheduler on a brand-new private lane that drains on its own
// goroutines.
func New(opts ...Option) *Scheduler {
	o := resolve(opts)
	return newScheduler(o, newLane(o, execctx.Go))
}

// NewSerial creates a scheduler on an existing serial context, used as-is.
func NewSerial(serial execctx.Serial, opts ...Option) *Scheduler {
	o := resolve(opts)
	return newScheduler(o, serial)
}

// NewConcurrent creates a scheduler whose private lane, named name, is chained
// behind c: work runs on c's capacity but never concurrently.
func NewConcurrent(c execctx.Concurrent, name string, opts ...Option) *Scheduler {
	o := resolve(opts)
	if name != "" {
		o.name = name
	}
	return newScheduler(o, newLane(o, c))
}

func newLane(o options, target execctx.Concurrent) *execctx.Lane {
	l := execctx.NewLane(o.name, target)
	l.SetLogger(o.log)
	l.SetBus(o.bus)
	if o.laneConfig != nil {
		o.laneConfig(l)
	}
	return l
}

func newScheduler(o options, lane execctx.Serial) *Scheduler {
	return &Scheduler{
		name:   o.name,
		lane:   lane,
		clock:  o.clock,
		leeway: o.leeway,
		log:    o.log,
		bus:    o.bus,
	}
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

func (s *Scheduler) Leeway() time.Duration { return s.leeway }

// Schedule runs work(state) on the lane as soon as possible.
func (s *Scheduler) Schedule(state any, work WorkItem) handle.Handle {
	h := s.track(kindImmediate, 0, 0)
	s.lane.Post(func() {
		s.runOnce(h, state, work)
	})
	return h
}

// ScheduleRelative runs work(state) on the lane once, no earlier than delay
// from now. A non-positive delay fires as soon as possible but never inline.
func (s *Scheduler) ScheduleRelative(state any, delay time.Duration, work WorkItem) handle.Handle {
	h := s.track(kindRelative, delay, 0)
	tm := execctx.ArmTimer(s.lane, execctx.TimerSpec{Delay: delay, Leeway: s.leeway}, func() {
		s.runOnce(h, state, work)
	})
	h.Compose(tm)
	return h
}

// SchedulePeriodic runs work on the lane first after initialDelay and then
// every period, threading each result into the next call. A non-positive
// period is normalized to execctx.MinInterval. It runs until cancelled.
func (s *Scheduler) SchedulePeriodic(state any, initialDelay, period time.Duration, work PeriodicWorkItem) handle.Handle {
	if period <= 0 {
		period = execctx.MinInterval
	}
	h := s.track(kindPeriodic, initialDelay, period)
	p := &periodic{sched: s, h: h, work: work, current: state}
	tm := execctx.ArmTimer(s.lane, execctx.TimerSpec{Delay: initialDelay, Interval: period, Leeway: s.leeway}, p.fire)
	// Both layers stay: the flag check in fire and the timer teardown here.
	h.Compose(tm)
	return h
}

func (s *Scheduler) runOnce(h *handle.Composite, state any, work WorkItem) {
	if h.IsCancelled() {
		s.skipped.Add(1)
		return
	}
	s.executed.Add(1)
	if work == nil {
		return
	}
	h.Compose(work(state))
}

// periodic owns the state cell of one periodic schedule. current is only
// touched from fire, which runs on the lane.
type periodic struct {
	sched   *Scheduler
	h       *handle.Composite
	work    PeriodicWorkItem
	current any
}

func (p *periodic) fire() {
	if p.h.IsCancelled() {
		p.sched.skipped.Add(1)
		return
	}
	p.sched.executed.Add(1)
	if p.work != nil {
		p.current = p.work(p.current)
	}
}

type kind string

const (
	kindImmediate kind = "immediate"
	kindRelative  kind = "relative"
	kindPeriodic  kind = "periodic"
)

// Event is the payload of sched.* bus events.
type Event struct {
	Scheduler string        `json:"scheduler"`
	Kind      string        `json:"kind"`
	Delay     time.Duration `json:"delay,omitempty"`
	Period    time.Duration `json:"period,omitempty"`
}

func (s *Scheduler) track(k kind, delay, period time.Duration) *handle.Composite {
	s.scheduled.Add(1)
	h := &handle.Composite{}
	if s.bus == nil {
		return h
	}
	ev := Event{Scheduler: s.name, Kind: string(k), Delay: delay, Period: period}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeWorkScheduled, Data: ev})
	h.Compose(handle.Func(func() {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeWorkCancelled, Data: ev})
	}))
	return h
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Name      string                `json:"name"`
	Scheduled uint64                `json:"scheduled"`
	Executed  uint64                `json:"executed"`
	Skipped   uint64                `json:"skipped"`
	Lane      *execctx.LaneSnapshot `json:"lane,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Name:      s.name,
		Scheduled: s.scheduled.Load(),
		Executed:  s.executed.Load(),
		Skipped:   s.skipped.Load(),
	}
	if l, ok := s.lane.(*execctx.Lane); ok {
		ls := l.Snapshot()
		st.Lane = &ls
	}
	return st
}
