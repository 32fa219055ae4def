package execctx

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"lanesched/internal/eventbus"
	rtsup "lanesched/internal/runtime/supervisor"
	logx "lanesched/pkg/logx"
)

var (
	ErrPoolStopped = errors.New("pool stopped")
	ErrQueueFull   = errors.New("pool queue full")
)

// PoolConfig controls a worker pool.
type PoolConfig struct {
	Name      string
	Workers   int
	QueueSize int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Name == "" {
		c.Name = "pool"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Pool is a bounded worker pool and a Concurrent.
//
// Workers are hosted by a supervisor and restarted if they exit unexpectedly.
// The pool owns the goroutines its callbacks run on: a panicking callback is
// logged with its stack, published as a pool.panic event, and the worker
// carries on.
type Pool struct {
	cfg PoolConfig
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	q        chan func()
	stopCh   chan struct{}
	stopping bool
	sup      *rtsup.Supervisor
	spillWG  sync.WaitGroup

	inFlight atomic.Int32
	executed atomic.Uint64
	spilled  atomic.Uint64
	panics   atomic.Uint64
	outside  atomic.Uint64

	throttle *logx.Throttle
}

func NewPool(cfg PoolConfig, log logx.Logger, bus eventbus.Bus) *Pool {
	return &Pool{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		throttle: logx.NewThrottle(0.2, 1),
	}
}

// Start launches the workers. Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q != nil {
		return
	}
	cfg := p.cfg
	p.q = make(chan func(), cfg.QueueSize)
	p.stopCh = make(chan struct{})
	p.stopping = false
	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log.With(logx.String("comp", cfg.Name))))

	queue, stopCh := p.q, p.stopCh
	for i := 0; i < cfg.Workers; i++ {
		p.sup.GoRestart(fmt.Sprintf("%s.worker.%d", cfg.Name, i), func(c context.Context) error {
			p.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	p.log.Info("pool started", logx.String("pool", cfg.Name), logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops the workers and waits for them (bounded by ctx). Callbacks that
// were queued but never picked up run on fresh goroutines so lanes chained on
// the pool keep making progress.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.q == nil || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	close(p.stopCh)
	sup, queue := p.sup, p.q
	p.mu.Unlock()

	err := sup.Stop(ctx)
	// Spilled callbacks either land in the queue or run themselves once
	// stopCh is closed; wait so the drain below sees all of them.
	p.spillWG.Wait()

	p.mu.Lock()
	p.q = nil
	p.stopCh = nil
	p.sup = nil
	p.mu.Unlock()

	for {
		select {
		case fn := <-queue:
			p.outside.Add(1)
			go p.exec(fn)
		default:
			if err != nil {
				p.log.Warn("pool stop timed out", logx.String("pool", p.cfg.Name), logx.Err(err))
			} else {
				p.log.Info("pool stopped", logx.String("pool", p.cfg.Name))
			}
			return err
		}
	}
}

// RunAsync implements Concurrent. It never blocks and never drops fn:
// when the queue is full fn spills to a goroutine that waits for room, and
// when the pool is not running fn runs on its own goroutine.
func (p *Pool) RunAsync(fn func()) {
	if fn == nil {
		return
	}
	err := p.TryRunAsync(fn)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		p.spill(fn)
	default:
		p.outside.Add(1)
		go p.exec(fn)
	}
}

// TryRunAsync enqueues fn without blocking and reports why it could not.
func (p *Pool) TryRunAsync(fn func()) error {
	p.mu.Lock()
	q, stopping := p.q, p.stopping
	p.mu.Unlock()
	if q == nil || stopping {
		return ErrPoolStopped
	}
	select {
	case q <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) spill(fn func()) {
	n := p.spilled.Add(1)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePoolSpill, Data: p.Snapshot()})
	}
	if !p.log.IsZero() {
		p.throttle.Warn(p.log, "pool queue full; spilling", logx.String("pool", p.cfg.Name), logx.Uint64("spilled", n))
	}

	p.mu.Lock()
	q, stopCh := p.q, p.stopCh
	if q == nil || p.stopping {
		p.mu.Unlock()
		p.outside.Add(1)
		go p.exec(fn)
		return
	}
	p.spillWG.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.spillWG.Done()
		select {
		case q <- fn:
		case <-stopCh:
			p.outside.Add(1)
			p.exec(fn)
		}
	}()
}

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, queue chan func()) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case fn, ok := <-queue:
			if !ok {
				return
			}
			p.inFlight.Add(1)
			p.exec(fn)
			p.inFlight.Add(-1)
		}
	}
}

func (p *Pool) exec(fn func()) {
	defer func() {
		p.executed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("task.panic", logx.String("pool", p.cfg.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			if p.bus != nil {
				p.bus.Publish(eventbus.Event{Type: eventbus.TypePoolPanic, Time: time.Now(), Data: fmt.Sprint(r)})
			}
		}
	}()
	fn()
}

// PoolSnapshot is a lightweight view for diagnostics.
type PoolSnapshot struct {
	Name     string `json:"name"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	InFlight int    `json:"in_flight"`
	Executed uint64 `json:"executed"`
	Spilled  uint64 `json:"spilled"`
	Panics   uint64 `json:"panics"`
	Outside  uint64 `json:"outside"`
}

func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	q := p.q
	p.mu.Unlock()
	s := PoolSnapshot{
		Name:     p.cfg.Name,
		Workers:  p.cfg.Workers,
		InFlight: int(p.inFlight.Load()),
		Executed: p.executed.Load(),
		Spilled:  p.spilled.Load(),
		Panics:   p.panics.Load(),
		Outside:  p.outside.Load(),
	}
	if q != nil {
		s.QueueLen = len(q)
		s.QueueCap = cap(q)
	}
	return s
}

// Supervisor returns the supervisor hosting the workers (nil when stopped).
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sup
}
