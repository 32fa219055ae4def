package execctx

import (
	"sync"
	"sync/atomic"

	"lanesched/internal/eventbus"
	logx "lanesched/pkg/logx"
)

const (
	defaultMaxBatch    = 64
	defaultBacklogWarn = 1024
	backlogWarnPerSec  = 0.2
)

// Lane is a private serial execution lane.
//
// Posts are appended to an unbounded FIFO and never block. Whenever the lane
// goes from idle to busy it hands one drain callback to its target; the drain
// runs up to MaxBatch callbacks and then yields by re-dispatching itself, so
// a lane chained on a shared Pool does not monopolise a worker.
//
// Setters configure the lane and must only be called before the first Post.
type Lane struct {
	name        string
	target      Concurrent
	maxBatch    int
	backlogWarn int
	log         logx.Logger
	bus         eventbus.Bus
	throttle    *logx.Throttle

	mu      sync.Mutex
	queue   []func()
	running bool

	posted   atomic.Uint64
	executed atomic.Uint64
}

// NewLane returns an idle lane draining on target. A nil target means Go.
func NewLane(name string, target Concurrent) *Lane {
	if target == nil {
		target = Go
	}
	return &Lane{
		name:        name,
		target:      target,
		maxBatch:    defaultMaxBatch,
		backlogWarn: defaultBacklogWarn,
		throttle:    logx.NewThrottle(backlogWarnPerSec, 1),
	}
}

func (l *Lane) Name() string { return l.name }

func (l *Lane) SetName(name string) { l.name = name }

// SetTarget replaces the Concurrent the lane drains on. nil means Go.
func (l *Lane) SetTarget(c Concurrent) {
	if c == nil {
		c = Go
	}
	l.target = c
}

// SetMaxBatch bounds how many callbacks one drain runs before yielding.
func (l *Lane) SetMaxBatch(n int) {
	if n <= 0 {
		n = defaultMaxBatch
	}
	l.maxBatch = n
}

// SetBacklogWarn sets the queue length at which the lane starts warning.
// 0 disables the warning.
func (l *Lane) SetBacklogWarn(n int) { l.backlogWarn = n }

func (l *Lane) SetLogger(log logx.Logger) { l.log = log }

func (l *Lane) SetBus(bus eventbus.Bus) { l.bus = bus }

// Post enqueues fn. It never runs fn inline.
func (l *Lane) Post(fn func()) {
	if fn == nil {
		return
	}
	l.posted.Add(1)

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	backlog := len(l.queue)
	start := !l.running
	if start {
		l.running = true
	}
	l.mu.Unlock()

	if l.backlogWarn > 0 && backlog >= l.backlogWarn {
		l.onBacklog(backlog)
	}
	if start {
		l.target.RunAsync(l.drain)
	}
}

func (l *Lane) drain() {
	for i := 0; i < l.maxBatch; i++ {
		fn, ok := l.pop()
		if !ok {
			return
		}
		l.run(fn)
	}
	l.redispatch()
}

func (l *Lane) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		l.queue = nil
		l.running = false
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// run executes fn. A panic is not recovered: the remaining backlog is handed
// to a fresh drain and the panic keeps unwinding into whatever owns the
// current goroutine.
func (l *Lane) run(fn func()) {
	completed := false
	defer func() {
		l.executed.Add(1)
		if !completed {
			l.redispatch()
		}
	}()
	fn()
	completed = true
}

func (l *Lane) redispatch() {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.queue = nil
		l.running = false
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.target.RunAsync(l.drain)
}

func (l *Lane) onBacklog(n int) {
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeLaneBacklog, Data: LaneSnapshot{Name: l.name, Backlog: n}})
	}
	if !l.log.IsZero() {
		l.throttle.Warn(l.log, "lane backlog growing", logx.String("lane", l.name), logx.Int("backlog", n))
	}
}

// LaneSnapshot is a point-in-time view of a lane.
type LaneSnapshot struct {
	Name     string `json:"name"`
	Backlog  int    `json:"backlog"`
	Running  bool   `json:"running"`
	Posted   uint64 `json:"posted"`
	Executed uint64 `json:"executed"`
}

func (l *Lane) Snapshot() LaneSnapshot {
	l.mu.Lock()
	backlog := len(l.queue)
	running := l.running
	l.mu.Unlock()
	return LaneSnapshot{
		Name:     l.name,
		Backlog:  backlog,
		Running:  running,
		Posted:   l.posted.Load(),
		Executed: l.executed.Load(),
	}
}
