package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanesched/internal/config"
	"lanesched/internal/eventbus"
	"lanesched/internal/scheduler"
	"lanesched/internal/storage"
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

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate([]config.JobConfig{
		{Name: "a", Schedule: "1m"},
		{Name: "b", Schedule: "once:0s", Delay: "5s"},
	}))

	err := Validate([]config.JobConfig{
		{Name: "", Schedule: "1m"},
		{Name: "a", Schedule: "nope"},
		{Name: "a", Schedule: "1m", Delay: "-1s"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "jobs[0].name")
	assert.ErrorContains(t, err, "jobs[1].schedule")
	assert.ErrorContains(t, err, "duplicate")
	assert.ErrorContains(t, err, "jobs[2].delay")
}

func TestRunnerIntervalThreadsSeq(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.WithName("jobs-test"))
	r := NewRunner(s, nil, nil, zeroLog())

	var mu sync.Mutex
	var seqs []uint64
	r.Register("tick", func(ctx context.Context, run Run) error {
		mu.Lock()
		seqs = append(seqs, run.Seq)
		mu.Unlock()
		return nil
	})

	require.NoError(t, r.Apply([]config.JobConfig{{Name: "tick", Schedule: "interval:2ms", Delay: "0s"}}))
	assert.Equal(t, []string{"tick"}, r.Jobs())

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 3
	})
	r.Stop()
	assert.Empty(t, r.Jobs())

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestRunnerOnceRecordsToStoreAndBus(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.json")}, zeroLog())
	require.NoError(t, err)
	defer st.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := scheduler.New(scheduler.WithName("main"))
	r := NewRunner(s, st, bus, zeroLog())
	r.Register("boom", func(ctx context.Context, run Run) error { return errors.New("boom") })

	require.NoError(t, r.Apply([]config.JobConfig{
		{Name: "hello", Schedule: "once:0s", Message: "hi"},
		{Name: "boom", Schedule: "once:1ms"},
	}))

	var runs []storage.RunRecord
	waitFor(t, 2*time.Second, func() bool {
		a, _ := st.RecentRuns(context.Background(), "hello", 5)
		b, _ := st.RecentRuns(context.Background(), "boom", 5)
		if len(a) == 1 && len(b) == 1 {
			runs = append(a, b...)
			return true
		}
		return false
	})

	assert.Equal(t, "once", runs[0].Kind)
	assert.Equal(t, "main", runs[0].Scheduler)
	assert.Equal(t, uint64(1), runs[0].Seq)
	assert.Empty(t, runs[0].Error)
	assert.Equal(t, "boom", runs[1].Error)

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeJobRun {
				continue
			}
			seen[ev.Data.(Run).Job] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("job events missing: %v", seen)
		}
	}
}

func TestRunnerApplyReconciles(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	r := NewRunner(s, nil, nil, zeroLog())

	var fast, slow atomic.Int64
	r.Register("fast", func(context.Context, Run) error { fast.Add(1); return nil })
	r.Register("slow", func(context.Context, Run) error { slow.Add(1); return nil })

	require.NoError(t, r.Apply([]config.JobConfig{
		{Name: "fast", Schedule: "1ms", Delay: "0s"},
		{Name: "slow", Schedule: "1h"},
		{Name: "off", Schedule: "1ms", Disabled: true},
	}))
	assert.Equal(t, []string{"fast", "slow"}, r.Jobs())
	waitFor(t, 2*time.Second, func() bool { return fast.Load() > 0 })

	require.Error(t, r.Apply([]config.JobConfig{{Name: "bad", Schedule: "??"}}))
	assert.Equal(t, []string{"fast", "slow"}, r.Jobs(), "invalid config leaves jobs bound")

	require.NoError(t, r.Apply([]config.JobConfig{{Name: "slow", Schedule: "1h"}}))
	assert.Equal(t, []string{"slow"}, r.Jobs())

	// drain any fire already posted before the cancel
	done := make(chan struct{})
	scheduler.Do(s, func() { close(done) })
	<-done
	stopped := fast.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, fast.Load(), "removed job must not run again")
	assert.Zero(t, slow.Load())

	r.Stop()
}

func TestRunnerCronJob(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	r := NewRunner(s, nil, nil, zeroLog())
	var n atomic.Int64
	r.Register("sec", func(_ context.Context, run Run) error {
		if run.Kind != SpecCron {
			return errors.New("wrong kind")
		}
		n.Add(1)
		return nil
	})
	require.NoError(t, r.Apply([]config.JobConfig{{Name: "sec", Schedule: "@every 1s"}}))
	defer r.Stop()

	waitFor(t, 3*time.Second, func() bool { return n.Load() >= 1 })
}

func zeroLog() logx.Logger { return logx.Nop() }
