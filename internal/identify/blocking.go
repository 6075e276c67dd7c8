// internal/identify/blocking.go
package identify

import (
	"fmt"

	"comlink-service/internal/protocol"
)

// Blocking writes the command and then stalls the calling goroutine for up
// to the timeout while waiting for the answer. When it runs on the event
// loop, nothing else on the loop progresses until it returns.
type Blocking struct {
	config  Config
	started bool
	result  once
}

// NewBlocking creates a blocking identifier.
func NewBlocking(config Config) *Blocking {
	return &Blocking{config: config}
}

// Start runs the whole handshake before returning.
func (b *Blocking) Start(t protocol.Transport, report ReportFunc) {
	if b.started || b.result.done {
		report(ErrAlreadyStarted)
		return
	}
	b.started = true
	b.result.report = report

	if err := t.Write(b.config.Command); err != nil {
		b.result.fire(fmt.Errorf("write identification command: %w", err))
		return
	}

	if !t.WaitForReadyRead(b.config.timeout()) {
		b.result.fire(fmt.Errorf("%w after %s", ErrTimeout, b.config.timeout()))
		return
	}

	b.result.fire(compare(b.config.ExpectedResponse, t.ReadAvailable()))
}

// Stop reports ErrCanceled if Start has not reported yet.
func (b *Blocking) Stop() {
	b.result.fire(ErrCanceled)
}
