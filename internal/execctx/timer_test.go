package execctx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerOneShotFiresOnLane(t *testing.T) {
	t.Parallel()

	l := NewLane("timer", nil)
	fired := make(chan time.Time, 1)
	start := time.Now()
	tm := ArmTimer(l, TimerSpec{Delay: 20 * time.Millisecond}, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), tm.Fires())
}

func TestTimerZeroDelayIsAsync(t *testing.T) {
	t.Parallel()

	l := NewLane("timer", nil)
	var armed atomic.Bool
	done := make(chan struct{})
	ArmTimer(l, TimerSpec{Delay: -time.Second}, func() {
		if !armed.Load() {
			t.Error("fired before ArmTimer returned")
		}
		close(done)
	})
	armed.Store(true)
	<-done
}

func TestTimerCancelBeforeFire(t *testing.T) {
	t.Parallel()

	l := NewLane("timer", nil)
	var fired atomic.Bool
	tm := ArmTimer(l, TimerSpec{Delay: 30 * time.Millisecond}, func() { fired.Store(true) })
	tm.Cancel()
	tm.Cancel()
	require.True(t, tm.IsCancelled())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTimerRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	l := NewLane("timer", nil)
	var n atomic.Int32
	tm := ArmTimer(l, TimerSpec{Delay: 0, Interval: 5 * time.Millisecond}, func() { n.Add(1) })

	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 3 })
	tm.Cancel()
	// Let any fire that was already posted drain.
	time.Sleep(20 * time.Millisecond)
	settled := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, n.Load())
}

func TestTimerCoalescesMissedDeadlines(t *testing.T) {
	t.Parallel()

	l := NewLane("busy", nil)
	var n atomic.Int32
	tm := ArmTimer(l, TimerSpec{Interval: 2 * time.Millisecond}, func() {
		if n.Add(1) == 1 {
			// Hold the lane for ~25 intervals.
			time.Sleep(50 * time.Millisecond)
		}
	})
	defer tm.Cancel()

	waitFor(t, 2*time.Second, func() bool { return n.Load() >= 2 })
	// The missed ticks collapsed: the deadline was moved past "now" instead of
	// replaying every one of them.
	assert.True(t, tm.Deadline().After(time.Now().Add(-10*time.Millisecond)))
}

func TestAlignLeeway(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 1_000_000_123)
	tests := []struct {
		name   string
		leeway time.Duration
		want   time.Time
	}{
		{name: "none", leeway: 0, want: base},
		{name: "millisecond", leeway: time.Millisecond, want: time.Unix(0, 1_001_000_000)},
		{name: "aligned", leeway: time.Nanosecond, want: base},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := alignLeeway(base, tt.leeway); !got.Equal(tt.want) {
				t.Fatalf("alignLeeway = %v, want %v", got.UnixNano(), tt.want.UnixNano())
			}
		})
	}
}
