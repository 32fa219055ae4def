package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lanesched/internal/config"
	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	"lanesched/internal/handle"
	"lanesched/internal/jobs"
	"lanesched/internal/observability/debugserver"
	"lanesched/internal/runtime/supervisor"
	"lanesched/internal/scheduler"
	"lanesched/internal/storage"
	logx "lanesched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	pool   *execctx.Pool
	sched  *scheduler.Scheduler
	runner *jobs.Runner
	debug  *debugserver.Server

	notify   bool
	watchdog handle.Handle

	stopOnce sync.Once
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := newConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		store = nil
	case err != nil:
		return nil, err
	default:
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	opts, err := mapSchedulerOptions(cfg, log.With(logx.String("comp", "scheduler")), bus)
	if err != nil {
		return nil, err
	}

	var (
		pool  *execctx.Pool
		sched *scheduler.Scheduler
	)
	pc, poolOn, err := mapPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case poolOn:
		pool = execctx.NewPool(pc, log.With(logx.String("comp", "pool")), bus)
		sched = scheduler.NewConcurrent(pool, "", opts...)
	case scheduler.InitMain(opts...):
		sched = scheduler.Main()
	default:
		// Main already exists in this process (another App); keep ours private.
		sched = scheduler.New(opts...)
	}

	runner := jobs.NewRunner(sched, store, bus, log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		pool:    pool,
		sched:   sched,
		runner:  runner,
		notify:  cfg.Systemd.Notify,
	}

	dc, debugOn, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	if debugOn {
		a.debug = debugserver.New(dc, a.debugSource(), log.With(logx.String("comp", "debug")))
	}
	return a, nil
}

func newConfigManager(path string) *config.ConfigManager {
	cfgm := config.NewConfigManager(path)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	return cfgm
}

// LoadConfig reads and validates the config at path without building
// anything.
func LoadConfig(path string) (*config.Config, error) {
	return newConfigManager(path).Load(context.Background())
}

// OpenStore opens the run journal configured in cfg. It returns
// storage.ErrDisabled when no storage is configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}

// Scheduler returns the app scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Jobs returns the job runner, e.g. to Register actions before Start.
func (a *App) Jobs() *jobs.Runner { return a.runner }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// Stop owns the pool lifetime, not the supervisor.
	if a.pool != nil {
		a.pool.Start(context.WithoutCancel(ctx))
	}

	cfg := a.cfgm.Get()
	if err := a.runner.Apply(cfg.Jobs); err != nil {
		return err
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					// debug-level: periodic jobs are chatty
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.debug != nil {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if cfg.Systemd.Watchdog {
		a.watchdog = a.startWatchdog()
	}
	a.sdNotify("READY=1\nSTATUS=running " + strings.Join(a.runner.Jobs(), ","))

	a.log.Info("started",
		logx.String("config", a.cfgPath),
		logx.String("scheduler", a.sched.Name()),
		logx.Int("jobs", len(a.runner.Jobs())),
		logx.Bool("pool", a.pool != nil),
	)
	return nil
}

// applyConfig applies a hot-reloaded config. Only logging and jobs take
// effect live; other sections need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "jobs":
			if err := a.runner.Apply(newCfg.Jobs); err != nil {
				a.log.Warn("jobs reload failed", logx.Err(err))
				continue
			}
			a.log.Debug("jobs reloaded", logx.Any("changed", changedJobs))
		default:
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
}

// Stop shuts the app down in order: jobs, scheduler lane, debug server,
// pool, storage, supervised goroutines. Each step gets its own budget inside ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	start := time.Now()
	a.log.Info("stop requested", logx.String("reason", string(reason)))
	a.sdNotify("STOPPING=1\nSTATUS=stopping (" + string(reason) + ")")

	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, budget time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("jobs", time.Second, func(context.Context) error {
		a.runner.Stop()
		if a.watchdog != nil {
			a.watchdog.Cancel()
		}
		return nil
	})
	// Work already on the lane runs before the pool goes away.
	step("scheduler", 2*time.Second, func(c context.Context) error {
		done := make(chan struct{})
		scheduler.Do(a.sched, func() { close(done) })
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("debug", time.Second, func(c context.Context) error {
		if a.debug == nil {
			return nil
		}
		return a.debug.Stop(c)
	})
	step("pool", 2*time.Second, func(c context.Context) error {
		if a.pool == nil {
			return nil
		}
		return a.pool.Stop(c)
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})

	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// validate rejects configs that New could not build. It also guards hot
// reloads.
func validate(cfg *config.Config) error {
	if _, err := mapSchedulerOptions(cfg, logx.Nop(), nil); err != nil {
		return err
	}
	if _, _, err := mapPoolConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	return jobs.Validate(cfg.Jobs)
}
