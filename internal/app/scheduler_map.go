package app

import (
	"fmt"
	"strings"

	"lanesched/internal/config"
	"lanesched/internal/eventbus"
	"lanesched/internal/execctx"
	"lanesched/internal/scheduler"
	logx "lanesched/pkg/logx"
)

const defaultSchedulerName = "lanesched"

func mapPoolConfig(cfg *config.Config) (execctx.PoolConfig, bool, error) {
	if cfg == nil || cfg.Pool == nil || !cfg.Pool.Enabled {
		return execctx.PoolConfig{}, false, nil
	}
	if cfg.Pool.Workers < 0 {
		return execctx.PoolConfig{}, false, fmt.Errorf("pool.workers must be >= 0")
	}
	if cfg.Pool.QueueSize < 0 {
		return execctx.PoolConfig{}, false, fmt.Errorf("pool.queue_size must be >= 0")
	}
	return execctx.PoolConfig{
		Name:      "pool",
		Workers:   cfg.Pool.Workers,
		QueueSize: cfg.Pool.QueueSize,
	}, true, nil
}

// mapSchedulerOptions turns the scheduler section into scheduler options.
func mapSchedulerOptions(cfg *config.Config, log logx.Logger, bus eventbus.Bus) ([]scheduler.Option, error) {
	sc := config.SchedulerConfig{}
	if cfg != nil {
		sc = cfg.Scheduler
	}
	leeway, err := config.ParseDurationField("scheduler.leeway", sc.Leeway)
	if err != nil {
		return nil, err
	}
	if sc.MaxBatch < 0 {
		return nil, fmt.Errorf("scheduler.max_batch must be >= 0")
	}
	if sc.BacklogWarn < -1 {
		return nil, fmt.Errorf("scheduler.backlog_warn must be >= -1")
	}
	name := strings.TrimSpace(sc.Name)
	if name == "" {
		name = defaultSchedulerName
	}

	return []scheduler.Option{
		scheduler.WithName(name),
		scheduler.WithLeeway(leeway),
		scheduler.WithLogger(log),
		scheduler.WithBus(bus),
		scheduler.WithLaneConfig(func(l *execctx.Lane) {
			if sc.MaxBatch > 0 {
				l.SetMaxBatch(sc.MaxBatch)
			}
			if sc.BacklogWarn != 0 {
				l.SetBacklogWarn(sc.BacklogWarn)
			}
		}),
	}, nil
}
