// internal/eventloop/loop.go
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is handed to a loop that is no longer running.
var ErrStopped = errors.New("event loop stopped")

// Dispatcher queues a function for execution on the loop goroutine.
type Dispatcher interface {
	Post(fn func()) bool
}

// Timer is a one-shot timer whose callback runs on the loop.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// timer was still armed. Must be called on the loop.
	Stop() bool
}

// Scheduler arms one-shot timers that fire on the loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop runs posted tasks one at a time, in the order they were posted.
// Everything that mutates connection state runs here, so that state needs
// no locking.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// New creates a loop with a task queue of the given size.
func New(logger *zap.Logger, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "event-loop")),
	}
}

// Run executes tasks until ctx is canceled. Pending tasks are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Event loop started")
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Event loop stopped", zap.Int("pending_tasks", len(l.tasks)))
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Event loop task panicked",
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn. It returns false if the loop has stopped.
// Post must not be called from the loop goroutine when the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it to finish. If ctx ends first, fn
// may still run later. Do must never be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc arms a wall-clock timer. fn runs on the loop unless Stop is
// called on the loop first. Must be called on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.fired {
				return
			}
			lt.fired = true
			fn()
		})
	})
	return lt
}

// loopTimer.fired is only read and written on the loop goroutine.
type loopTimer struct {
	timer *time.Timer
	fired bool
}

func (lt *loopTimer) Stop() bool {
	if lt.fired {
		return false
	}
	lt.fired = true
	lt.timer.Stop()
	return true
}
