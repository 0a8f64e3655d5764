package effects

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type Config struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

type job struct {
	ctx context.Context
	fx  domain.Effects
}

// Dispatcher delivers side effects on a pool of workers. When the pool is
// saturated past the handoff timeout, or already closed, effects are
// delivered on the caller's goroutine instead of being dropped.
type Dispatcher struct {
	recorder domain.ActivityRecorder
	notifier domain.NotificationDispatcher
	log      *log.Logger
	cfg      Config

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once

	inline atomic.Int64
	failed atomic.Int64
}

func NewDispatcher(recorder domain.ActivityRecorder, notifier domain.NotificationDispatcher, logger *log.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		recorder: recorder,
		notifier: notifier,
		log:      logger,
		cfg:      cfg,
		jobs:     make(chan job, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("effect dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Dispatch implements domain.EffectSink.
func (d *Dispatcher) Dispatch(ctx context.Context, fx domain.Effects) {
	if fx.Empty() {
		return
	}
	j := job{ctx: context.WithoutCancel(ctx), fx: fx}
	if d.tryEnqueue(j) {
		return
	}
	d.inline.Add(1)
	d.log.WithField("activities", len(fx.Activities)).Debug("effect pool saturated, delivering inline")
	d.deliver(j)
}

// Close stops accepting work and waits for queued effects to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.jobs) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many batches were delivered inline and how many
// deliveries failed.
func (d *Dispatcher) Stats() (inline, failed int64) {
	return d.inline.Load(), d.failed.Load()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		if n := d.deliver(j); n > 0 {
			d.log.WithFields(log.Fields{"worker": id, "failed": n}).Warn("effect delivery incomplete")
		}
	}
}

func (d *Dispatcher) deliver(j job) int {
	ctx, cancel := context.WithTimeout(j.ctx, d.cfg.Timeout)
	defer cancel()
	n := domain.Deliver(ctx, d.recorder, d.notifier, d.log, j.fx)
	d.failed.Add(int64(n))
	return n
}

func (d *Dispatcher) tryEnqueue(j job) bool {
	if ok, closed := trySendNonBlocking(d.jobs, j); closed {
		return false
	} else if ok {
		return true
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, j, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan job, j job) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan job, j job, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	case <-timer:
		return false, false
	}
}
