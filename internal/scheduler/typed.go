package scheduler

import (
	"time"

	"lanesched/internal/handle"
)

// Do runs fn on the lane as soon as possible.
func Do(s *Scheduler, fn func()) handle.Handle {
	return s.Schedule(nil, func(any) handle.Handle {
		fn()
		return nil
	})
}

// Submit is Schedule with a typed state.
func Submit[S any](s *Scheduler, state S, work func(S) handle.Handle) handle.Handle {
	return s.Schedule(nil, func(any) handle.Handle { return work(state) })
}

// After is ScheduleRelative with a typed state.
func After[S any](s *Scheduler, state S, delay time.Duration, work func(S) handle.Handle) handle.Handle {
	return s.ScheduleRelative(nil, delay, func(any) handle.Handle { return work(state) })
}

// Every is SchedulePeriodic with a typed state.
func Every[S any](s *Scheduler, state S, initialDelay, period time.Duration, work func(S) S) handle.Handle {
	return s.SchedulePeriodic(state, initialDelay, period, func(v any) any {
		cur, _ := v.(S)
		return work(cur)
	})
}
