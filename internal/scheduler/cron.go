package scheduler

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"lanesched/internal/handle"
)

// cronParser accepts both 5-field and 6-field (with seconds) specs plus
// descriptors like "@hourly" and "@every 5m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron spec. A "CRON_TZ=Area/City " prefix selects the
// time zone.
func ParseCron(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("cron spec required")
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// ScheduleCron runs work on the lane at every instant sched yields, measured
// from Now. Each occurrence arms the next one with ScheduleRelative; the
// returned handle stops the chain. State is threaded like SchedulePeriodic.
// The chain ends on its own if sched has no next instant.
func (s *Scheduler) ScheduleCron(state any, sched cron.Schedule, work PeriodicWorkItem) handle.Handle {
	c := &cronChain{sched: s, spec: sched, work: work, current: state, slot: &handle.Slot{}}
	c.arm()
	return c.slot
}

type cronChain struct {
	sched   *Scheduler
	spec    cron.Schedule
	work    PeriodicWorkItem
	current any
	slot    *handle.Slot
}

func (c *cronChain) arm() {
	if c.slot.IsCancelled() {
		return
	}
	now := c.sched.Now()
	next := c.spec.Next(now)
	if next.IsZero() {
		return
	}
	c.slot.Set(c.sched.ScheduleRelative(nil, next.Sub(now), func(any) handle.Handle {
		if c.work != nil {
			c.current = c.work(c.current)
		}
		c.arm()
		return nil
	}))
}
