package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	"lanesched/internal/handle"
	logx "lanesched/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// barrier returns a channel closed once everything posted to s before it has run.
func barrier(s *Scheduler) <-chan struct{} {
	ch := make(chan struct{})
	Do(s, func() { close(ch) })
	return ch
}

func TestScheduleRunsInSubmissionOrder(t *testing.T) {
	t.Parallel()

	s := New(WithName("fifo"))
	const n = 1000
	var got []int // lane-owned
	for i := 0; i < n; i++ {
		s.Schedule(i, func(state any) handle.Handle {
			got = append(got, state.(int))
			return nil
		})
	}
	<-barrier(s)

	require.Len(t, got, n)
	for i := range got {
		if got[i] != i {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], i)
		}
	}
}

func TestConcurrentSchedulersKeepPerCallerOrder(t *testing.T) {
	t.Parallel()

	s := New()
	const callers, per = 8, 200
	last := make([]int, callers) // lane-owned
	for i := range last {
		last[i] = -1
	}
	var outOfOrder atomic.Bool

	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				i := i
				Do(s, func() {
					if last[c] != i-1 {
						outOfOrder.Store(true)
					}
					last[c] = i
				})
			}
		}()
	}
	wg.Wait()
	<-barrier(s)

	assert.False(t, outOfOrder.Load())
	for c := range last {
		assert.Equal(t, per-1, last[c])
	}
}

func TestUnlockedCounterUnderConcurrentSchedule(t *testing.T) {
	t.Parallel()

	s := New()
	const n = 1000
	counter := 0
	var active atomic.Int32
	var overlapped atomic.Bool

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			s.Schedule(nil, func(any) handle.Handle {
				defer wg.Done()
				if active.Add(1) > 1 {
					overlapped.Store(true)
				}
				counter++
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load())
	assert.Equal(t, n, counter)
}

func TestCancelBeforeDuePreventsExecution(t *testing.T) {
	t.Parallel()

	s := New()
	var ran atomic.Bool
	h := s.ScheduleRelative(nil, 200*time.Millisecond, func(any) handle.Handle {
		ran.Store(true)
		return nil
	})
	h.Cancel()
	require.True(t, h.IsCancelled())

	time.Sleep(300 * time.Millisecond)
	<-barrier(s)
	assert.False(t, ran.Load())
}

func TestCancelImmediateBeforeLaneReachesIt(t *testing.T) {
	t.Parallel()

	s := New()
	block := make(chan struct{})
	Do(s, func() { <-block })

	var ran atomic.Bool
	h := s.Schedule(nil, func(any) handle.Handle {
		ran.Store(true)
		return nil
	})
	h.Cancel()
	close(block)
	<-barrier(s)

	assert.False(t, ran.Load())
	assert.Equal(t, uint64(1), s.Stats().Skipped)
}

func TestRelativeZeroDelayRunsAfterCurrentItem(t *testing.T) {
	t.Parallel()

	s := New()
	var current atomic.Bool
	result := make(chan bool, 1)

	Do(s, func() {
		current.Store(true)
		s.ScheduleRelative(nil, 0, func(any) handle.Handle {
			result <- current.Load()
			return nil
		})
		// Still inside the current item: the relative work must not have run.
		time.Sleep(10 * time.Millisecond)
		current.Store(false)
	})

	select {
	case stillInside := <-result:
		assert.False(t, stillInside, "delay=0 work ran while the scheduling item was still running")
	case <-time.After(2 * time.Second):
		t.Fatal("relative work never ran")
	}
}

func TestRelativeRunsNoEarlierThanDue(t *testing.T) {
	t.Parallel()

	s := New()
	start := time.Now()
	done := make(chan time.Duration, 1)
	After(s, start, 30*time.Millisecond, func(t0 time.Time) handle.Handle {
		done <- time.Since(t0)
		return nil
	})
	select {
	case d := <-done:
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("relative work never ran")
	}
}

func TestNestedHandleIsAbsorbed(t *testing.T) {
	t.Parallel()

	s := New()
	var inner handle.Handle
	var innerRan atomic.Bool
	outer := s.Schedule(nil, func(any) handle.Handle {
		inner = s.ScheduleRelative(nil, 50*time.Millisecond, func(any) handle.Handle {
			innerRan.Store(true)
			return nil
		})
		return inner
	})
	<-barrier(s)

	outer.Cancel()
	require.True(t, inner.IsCancelled(), "cancelling the outer handle must cancel the nested one")
	time.Sleep(100 * time.Millisecond)
	assert.False(t, innerRan.Load())
}

func TestHandleReturnedAfterCancelIsReleased(t *testing.T) {
	t.Parallel()

	s := New()
	var outer handle.Handle
	ready := make(chan struct{})
	released := make(chan struct{})

	outer = s.Schedule(nil, func(any) handle.Handle {
		<-ready
		// Cancelled mid-run: the returned handle must be released on absorb.
		outer.Cancel()
		return handle.Func(func() { close(released) })
	})
	close(ready)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("nested handle leaked past a cancelled outer handle")
	}
}

func TestPeriodicStopsAfterCancel(t *testing.T) {
	t.Parallel()

	s := New()
	const period = 5 * time.Millisecond
	var fires atomic.Int32
	self := make(chan handle.Handle, 1)
	h := s.SchedulePeriodic(nil, 0, period, func(state any) any {
		if fires.Add(1) == 5 {
			// Cancelled from inside its own run.
			(<-self).Cancel()
		}
		return state
	})
	self <- h

	waitFor(t, 2*time.Second, func() bool { return h.IsCancelled() })
	time.Sleep(5 * period)
	assert.Equal(t, int32(5), fires.Load())
}

func TestPeriodicThreadsState(t *testing.T) {
	t.Parallel()

	s := New()
	seen := make(chan int, 16)
	h := Every(s, 1, 0, time.Millisecond, func(n int) int {
		select {
		case seen <- n:
		default:
		}
		return n * 2
	})
	defer h.Cancel()

	for _, want := range []int{1, 2, 4, 8} {
		select {
		case got := <-seen:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing occurrence with state %d", want)
		}
	}
}

func TestPeriodicNonPositivePeriodIsNormalized(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(WithBus(bus))
	var fires atomic.Int32
	h := s.SchedulePeriodic(nil, 0, -time.Second, func(state any) any {
		fires.Add(1)
		return state
	})

	select {
	case e := <-events:
		require.Equal(t, eventbus.TypeWorkScheduled, e.Type)
		ev := e.Data.(Event)
		assert.Equal(t, "periodic", ev.Kind)
		assert.Equal(t, execctx.MinInterval, ev.Period)
	case <-time.After(time.Second):
		t.Fatal("expected sched.scheduled event")
	}

	waitFor(t, 2*time.Second, func() bool { return fires.Load() >= 10 })
	h.Cancel()
	<-barrier(s)
	time.Sleep(5 * time.Millisecond)
	<-barrier(s)
	settled := fires.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, fires.Load())
}

func TestCancelPublishesEvent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(WithBus(bus), WithName("evented"))
	h := s.ScheduleRelative(nil, time.Hour, nil)
	h.Cancel()
	h.Cancel()

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
			assert.Equal(t, "evented", e.Data.(Event).Scheduler)
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.TypeWorkScheduled, eventbus.TypeWorkCancelled}, types)
}

func TestNewConcurrentSerializesOnPool(t *testing.T) {
	t.Parallel()

	pool := execctx.NewPool(execctx.PoolConfig{Workers: 8}, logx.Nop(), nil)
	pool.Start(context.Background())
	defer func() { _ = pool.Stop(context.Background()) }()

	s := NewConcurrent(pool, "on-pool")
	assert.Equal(t, "on-pool", s.Name())

	const n = 500
	var active atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		Do(s, func() {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(10 * time.Microsecond)
			active.Add(-1)
		})
	}
	wg.Wait()
	assert.False(t, overlapped.Load())
	assert.Greater(t, pool.Snapshot().Executed, uint64(0))
}

func TestNewSerialUsesLaneAsIs(t *testing.T) {
	t.Parallel()

	lane := execctx.NewLane("shared", nil)
	a := NewSerial(lane, WithName("a"))
	b := NewSerial(lane, WithName("b"))

	var order []string // lane-owned
	done := make(chan struct{})
	Do(a, func() { order = append(order, "a1") })
	Do(b, func() { order = append(order, "b1") })
	Do(a, func() { order = append(order, "a2"); close(done) })
	<-done

	assert.Equal(t, []string{"a1", "b1", "a2"}, order)
	require.NotNil(t, a.Stats().Lane)
	assert.Equal(t, uint64(3), a.Stats().Lane.Posted)
}

func TestLaneConfigRunsBeforeFirstUse(t *testing.T) {
	t.Parallel()

	var configured *execctx.Lane
	s := New(WithName("cfg"), WithLaneConfig(func(l *execctx.Lane) {
		configured = l
		l.SetMaxBatch(1)
	}))
	require.NotNil(t, configured)
	assert.Equal(t, "cfg", configured.Name())
	assert.Equal(t, uint64(0), configured.Snapshot().Posted)
	<-barrier(s)
	assert.Equal(t, uint64(1), configured.Snapshot().Posted)
}

func TestNowUsesClock(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(execctx.ClockFunc(func() time.Time { return fixed })), WithLeeway(-time.Second))
	assert.Equal(t, fixed, s.Now())
	assert.Equal(t, time.Duration(0), s.Leeway())
}

func TestMainIsSingleton(t *testing.T) {
	m := Main()
	require.Same(t, m, Main())
	assert.False(t, InitMain(WithName("late")))
	assert.Equal(t, "main", m.Name())
}
