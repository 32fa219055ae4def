package config

// Config is the lanesched daemon configuration.
//
// JSON or YAML; unknown keys are rejected. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Pool      *PoolConfig     `json:"pool,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PoolConfig controls the shared worker pool.
//
// When enabled, the scheduler lane is chained behind the pool instead of
// draining on its own goroutines.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
type PoolConfig struct {
	Enabled   bool `json:"enabled"`
	Workers   int  `json:"workers,omitempty"`
	QueueSize int  `json:"queue_size,omitempty"`
}

// SchedulerConfig controls the scheduler lane.
type SchedulerConfig struct {
	Name string `json:"name,omitempty"` // default: "lanesched"

	// Leeway lets timers coalesce fires within this window. "0s" means
	// best-effort precision.
	Leeway string `json:"leeway,omitempty"`

	// MaxBatch bounds how many work items one drain runs before yielding
	// the pool worker. Default 64.
	MaxBatch int `json:"max_batch,omitempty"`

	// BacklogWarn is the lane queue length that triggers a (throttled)
	// warning. 0 keeps the default (1024); -1 disables it.
	BacklogWarn int `json:"backlog_warn,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lanesched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig controls sd_notify integration. Both are no-ops when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify,omitempty"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// DebugConfig controls the debug HTTP server (status, recent runs, pprof).
//
// Binding to a non-loopback address requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"` // default: /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// JobConfig declares one scheduled job.
//
// Schedule forms:
//   - "once:10s" / "once:0s": run once after the delay
//   - "interval:55m", "55m", "02:30": run every interval (after Delay)
//   - "cron:*/5 * * * *", "@hourly": run on a cron schedule
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Delay    string `json:"delay,omitempty"` // initial delay for interval jobs
	Message  string `json:"message,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}
