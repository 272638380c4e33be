// Package reactor runs wallet logic on a single goroutine. Everything that
// mutates wallet state is posted here, so the wallet, the stratum server and
// the negotiators never need their own locks.
package reactor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimerID identifies a pending timer for CancelTimer.
type TimerID uint64

type timer struct {
	t        *time.Timer
	period   time.Duration
	callback func()
}

type Reactor struct {
	log   *zap.Logger
	tasks chan func()
	done  chan struct{}

	stopOnce sync.Once

	mu     sync.Mutex
	timers map[TimerID]*timer
	nextID TimerID
}

func New(log *zap.Logger) *Reactor {
	return &Reactor{
		log:    log,
		tasks:  make(chan func(), 128),
		done:   make(chan struct{}),
		timers: make(map[TimerID]*timer),
	}
}

// Run consumes posted tasks until Stop is called or ctx is cancelled.
// Tasks execute in the order they were posted; ones already queued at stop
// time still run before Run returns.
func (r *Reactor) Run(ctx context.Context) error {
	r.log.Info("reactor started")
	defer r.log.Info("reactor stopped")
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			r.drain()
			return ctx.Err()
		case <-r.done:
			r.drain()
			return nil
		case task := <-r.tasks:
			task()
		}
	}
}

// drain runs the tasks queued before Stop. Post is a no-op once done is
// closed, so this terminates.
func (r *Reactor) drain() {
	for {
		select {
		case task := <-r.tasks:
			task()
		default:
			return
		}
	}
}

func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		for id, tm := range r.timers {
			tm.t.Stop()
			delete(r.timers, id)
		}
		r.mu.Unlock()
	})
}

func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Post queues fn for execution on the reactor goroutine. Safe to call from
// any goroutine; a no-op after Stop.
func (r *Reactor) Post(fn func()) {
	select {
	case <-r.done:
	case r.tasks <- fn:
	}
}

// SetTimer schedules callback to run on the reactor goroutine after d.
// A periodic timer re-arms itself until cancelled.
func (r *Reactor) SetTimer(d time.Duration, periodic bool, callback func()) TimerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	tm := &timer{callback: callback}
	if periodic {
		tm.period = d
	}
	tm.t = time.AfterFunc(d, func() { r.fire(id) })
	r.timers[id] = tm
	return id
}

func (r *Reactor) CancelTimer(id TimerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tm, ok := r.timers[id]; ok {
		tm.t.Stop()
		delete(r.timers, id)
	}
}

func (r *Reactor) fire(id TimerID) {
	r.mu.Lock()
	tm, ok := r.timers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if tm.period > 0 {
		tm.t.Reset(tm.period)
	} else {
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.Post(tm.callback)
}
