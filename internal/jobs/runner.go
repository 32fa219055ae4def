package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lanesched/internal/config"
	"lanesched/internal/eventbus"
	"lanesched/internal/handle"
	"lanesched/internal/scheduler"
	"lanesched/internal/storage"
	logx "lanesched/pkg/logx"
)

const storeTimeout = 2 * time.Second

// Run describes one execution of a job.
type Run struct {
	Job     string
	Kind    SpecKind
	Seq     uint64 // 1-based run number since the job was bound
	Message string
}

// Action is the body of a job. It runs on the scheduler lane, so it must not
// block for long.
type Action func(ctx context.Context, run Run) error

type boundJob struct {
	cfg  config.JobConfig
	spec ParsedSpec
	h    handle.Handle
}

// Runner binds jobs onto a Scheduler and keeps them in sync with the config.
type Runner struct {
	sched *scheduler.Scheduler
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	actions map[string]Action
	jobs    map[string]*boundJob
}

// NewRunner creates a runner. store and bus may be nil.
func NewRunner(sched *scheduler.Scheduler, store storage.Store, bus eventbus.Bus, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		sched:   sched,
		store:   store,
		bus:     bus,
		log:     log.With(logx.String("comp", "jobs")),
		actions: map[string]Action{},
		jobs:    map[string]*boundJob{},
	}
}

// Register installs the action for the job called name. It only affects runs
// bound after the call.
func (r *Runner) Register(name string, fn Action) {
	r.mu.Lock()
	r.actions[strings.TrimSpace(name)] = fn
	r.mu.Unlock()
}

// Validate checks job names and schedules without binding anything.
func Validate(jobs []config.JobConfig) error {
	seen := make(map[string]struct{}, len(jobs))
	var errs []error
	for i, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].name: required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("jobs[%d].name: duplicate %q", i, name))
		}
		seen[name] = struct{}{}
		if _, err := ParseSchedule(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d].schedule: %w", i, err))
		}
		if _, err := config.ParseDurationField(fmt.Sprintf("jobs[%d].delay", i), j.Delay); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply reconciles the bound jobs with cfgs: removed or changed jobs are
// cancelled, new or changed jobs are bound. Disabled jobs are not bound.
func (r *Runner) Apply(cfgs []config.JobConfig) error {
	if err := Validate(cfgs); err != nil {
		return err
	}

	want := make(map[string]config.JobConfig, len(cfgs))
	for _, c := range cfgs {
		if c.Disabled {
			continue
		}
		c.Name = strings.TrimSpace(c.Name)
		want[c.Name] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var added, removed int
	for name, b := range r.jobs {
		if c, ok := want[name]; ok && c == b.cfg {
			continue
		}
		b.h.Cancel()
		delete(r.jobs, name)
		removed++
	}
	for name, c := range want {
		if _, ok := r.jobs[name]; ok {
			continue
		}
		spec, _ := ParseSchedule(c.Schedule)
		b := &boundJob{cfg: c, spec: spec}
		b.h = r.bindLocked(b)
		r.jobs[name] = b
		added++
	}
	if added > 0 || removed > 0 {
		r.log.Info("jobs applied", logx.Int("bound", len(r.jobs)), logx.Int("added", added), logx.Int("removed", removed))
	}
	return nil
}

func (r *Runner) bindLocked(b *boundJob) handle.Handle {
	name := b.cfg.Name
	act := r.actions[name]
	if act == nil {
		act = r.logAction
	}
	delay, _ := config.ParseDurationField("delay", b.cfg.Delay)

	switch b.spec.Kind {
	case SpecOnce:
		return scheduler.After(r.sched, uint64(1), b.spec.After, func(seq uint64) handle.Handle {
			r.run(b, act, seq)
			return nil
		})
	case SpecInterval:
		if strings.TrimSpace(b.cfg.Delay) == "" {
			delay = startupSpread(b.spec.Every, name)
		}
		return scheduler.Every(r.sched, uint64(0), delay, b.spec.Every, func(seq uint64) uint64 {
			seq++
			r.run(b, act, seq)
			return seq
		})
	default:
		cs, _ := scheduler.ParseCron(b.spec.Cron)
		return r.sched.ScheduleCron(uint64(0), cs, func(state any) any {
			seq, _ := state.(uint64)
			seq++
			r.run(b, act, seq)
			return seq
		})
	}
}

func (r *Runner) run(b *boundJob, act Action, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	run := Run{Job: b.cfg.Name, Kind: b.spec.Kind, Seq: seq, Message: b.cfg.Message}
	start := r.sched.Now()
	err := act(ctx, run)
	took := r.sched.Now().Sub(start)

	if err != nil {
		r.log.Warn("job failed", logx.String("job", run.Job), logx.Uint64("seq", seq), logx.Err(err))
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRun, Time: start, Data: run})
	}
	if r.store != nil {
		rec := storage.RunRecord{
			Job:       run.Job,
			Scheduler: r.sched.Name(),
			Kind:      run.Kind.String(),
			Seq:       seq,
			StartedAt: start,
			Took:      took,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if serr := r.store.AppendRun(ctx, rec); serr != nil {
			r.log.Warn("run journal append failed", logx.String("job", run.Job), logx.Err(serr))
		}
	}
}

func (r *Runner) logAction(_ context.Context, run Run) error {
	r.log.Info("job run",
		logx.String("job", run.Job),
		logx.String("kind", run.Kind.String()),
		logx.Uint64("seq", run.Seq),
		logx.String("message", run.Message),
	)
	return nil
}

// Jobs returns the names of the bound jobs, sorted.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every bound job.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, b := range r.jobs {
		b.h.Cancel()
		delete(r.jobs, name)
	}
}
