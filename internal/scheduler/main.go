package scheduler

import "sync"

var (
	mainOnce  sync.Once
	mainOpts  []Option
	mainMu    sync.Mutex
	mainSched *Scheduler
)

// InitMain sets the options the process-wide Main scheduler is built with.
// It only has an effect before the first call to Main and reports whether
// the options were accepted.
func InitMain(opts ...Option) bool {
	mainMu.Lock()
	defer mainMu.Unlock()
	if mainSched != nil {
		return false
	}
	mainOpts = append([]Option{WithName("main")}, opts...)
	return true
}

// Main returns the process-wide scheduler, creating it on first use on its
// own private lane. The instance is never replaced.
func Main() *Scheduler {
	mainOnce.Do(func() {
		mainMu.Lock()
		defer mainMu.Unlock()
		opts := mainOpts
		if opts == nil {
			opts = []Option{WithName("main")}
		}
		mainSched = New(opts...)
	})
	return mainSched
}
