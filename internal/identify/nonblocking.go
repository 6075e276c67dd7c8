// internal/identify/nonblocking.go
package identify

import (
	"fmt"

	"comlink-service/internal/eventloop"
	"comlink-service/internal/protocol"
)

// NonBlocking writes the command, arms a one-shot timer and waits for the
// transport's data-ready notification. Whichever comes first decides the
// outcome; the other is torn down before reporting. All callbacks run on
// the event loop.
type NonBlocking struct {
	config    Config
	scheduler eventloop.Scheduler

	started   bool
	transport protocol.Transport
	timer     eventloop.Timer
	unsub     func()
	result    once
}

// NewNonBlocking creates a non-blocking identifier that arms its timeout
// through scheduler.
func NewNonBlocking(config Config, scheduler eventloop.Scheduler) *NonBlocking {
	return &NonBlocking{config: config, scheduler: scheduler}
}

// Start sends the command and returns immediately.
func (n *NonBlocking) Start(t protocol.Transport, report ReportFunc) {
	if n.started || n.result.done {
		report(ErrAlreadyStarted)
		return
	}
	n.started = true
	n.transport = t
	n.result.report = report

	if err := t.Write(n.config.Command); err != nil {
		n.result.fire(fmt.Errorf("write identification command: %w", err))
		return
	}

	n.timer = n.scheduler.AfterFunc(n.config.timeout(), n.onTimeout)
	n.unsub = t.OnReadyRead(n.onReadyRead)
}

func (n *NonBlocking) onReadyRead() {
	if n.result.done {
		return
	}
	n.teardown()
	response := n.transport.ReadAvailable()
	n.result.fire(compare(n.config.ExpectedResponse, response))
}

func (n *NonBlocking) onTimeout() {
	if n.result.done {
		return
	}
	n.teardown()
	n.result.fire(fmt.Errorf("%w after %s", ErrTimeout, n.config.timeout()))
}

// Stop unregisters the timer and the data-ready subscription, then reports
// ErrCanceled if nothing was reported yet.
func (n *NonBlocking) Stop() {
	if n.result.done {
		return
	}
	n.teardown()
	n.result.fire(ErrCanceled)
}

func (n *NonBlocking) teardown() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.unsub != nil {
		n.unsub()
		n.unsub = nil
	}
}
