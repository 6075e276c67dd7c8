// internal/identify/identifier.go
package identify

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unicode"

	"comlink-service/internal/protocol"
)

var (
	ErrTimeout        = errors.New("identification timed out")
	ErrMismatch       = errors.New("unexpected identification response")
	ErrCanceled       = errors.New("identification canceled")
	ErrAlreadyStarted = errors.New("identifier already started")
)

// DefaultTimeout applies when a Config leaves Timeout unset.
const DefaultTimeout = 500 * time.Millisecond

// Config describes a command/expected-response handshake.
type Config struct {
	Command          []byte
	ExpectedResponse []byte
	Timeout          time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Validate rejects handshakes that can never succeed.
func (c Config) Validate() error {
	if len(TrimResponse(c.ExpectedResponse)) == 0 {
		return errors.New("expected response must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// ReportFunc receives the outcome of one identification attempt:
// nil when the device was identified, the reason otherwise.
type ReportFunc func(err error)

// Identifier confirms that the device behind an open transport is the
// expected one. Start reports exactly once. After reporting, the identifier
// no longer touches the transport.
type Identifier interface {
	Start(t protocol.Transport, report ReportFunc)
	// Stop tears down timers and subscriptions. If nothing was reported
	// yet, it reports ErrCanceled.
	Stop()
}

// Factory builds a fresh Identifier for each attempt.
type Factory func() Identifier

// TrimResponse strips trailing whitespace and control bytes.
func TrimResponse(b []byte) []byte {
	return bytes.TrimRightFunc(b, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// compare applies the handshake rule to a raw response.
func compare(expected, raw []byte) error {
	got := TrimResponse(raw)
	if bytes.Equal(got, TrimResponse(expected)) {
		return nil
	}
	return fmt.Errorf("%w: got %q, want %q", ErrMismatch, got, TrimResponse(expected))
}

// once guards the exactly-one-report contract.
type once struct {
	report ReportFunc
	done   bool
}

func (o *once) fire(err error) bool {
	if o.done {
		return false
	}
	o.done = true
	if o.report != nil {
		o.report(err)
	}
	return true
}
