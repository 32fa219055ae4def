package app

import (
	"context"
	"time"

	"lanesched/internal/config"
	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	"lanesched/internal/observability/debugserver"
	"lanesched/internal/runtime/supervisor"
	"lanesched/internal/scheduler"
)

func mapDebugConfig(cfg *config.Config) (debugserver.Config, bool, error) {
	if cfg == nil || cfg.Debug == nil || !cfg.Debug.Enabled {
		return debugserver.Config{}, false, nil
	}
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugserver.Config{}, false, err
	}
	// /debug/pprof/profile streams for 30s by default
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, false, err
	}
	dc := debugserver.Config{
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}
	if err := dc.Validate(); err != nil {
		return debugserver.Config{}, false, err
	}
	return dc, true, nil
}

// Status is the payload of the debug /status endpoint.
type Status struct {
	Scheduler  scheduler.Stats       `json:"scheduler"`
	Pool       *execctx.PoolSnapshot `json:"pool,omitempty"`
	Supervisor supervisor.Snapshot   `json:"supervisor"`
	Jobs       []string              `json:"jobs"`
	BusDropped uint64                `json:"bus_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:  a.sched.Stats(),
		Jobs:       a.runner.Jobs(),
		BusDropped: eventbus.Dropped(a.bus),
	}
	if a.pool != nil {
		ps := a.pool.Snapshot()
		st.Pool = &ps
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

func (a *App) debugSource() debugserver.Source {
	src := debugserver.Source{Status: func() any { return a.Status() }}
	if a.store != nil {
		src.Runs = func(ctx context.Context, job string, n int) (any, error) {
			return a.store.RecentRuns(ctx, job, n)
		}
	}
	return src
}
