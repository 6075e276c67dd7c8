// Package protocoltest provides in-memory transports for tests.
package protocoltest

import (
	"errors"
	"sync"
	"time"

	"comlink-service/internal/model"
	"comlink-service/internal/notify"
	"comlink-service/internal/protocol"
)

// Transport is an in-memory protocol.Transport. Notifications are emitted
// synchronously from Deliver and Fail, so tests play the role of the loop.
type Transport struct {
	Name string
	// Respond, when set, is called on every Write and its result is
	// buffered without a ready-read notification.
	Respond  func(written []byte) []byte
	WriteErr error

	mu      sync.Mutex
	written []byte
	buffer  []byte
	closed  bool
	modes   []protocol.Mode

	readyRead notify.Signal[struct{}]
	errored   notify.Signal[error]
}

// NewTransport creates an open transport for the named port.
func NewTransport(name string) *Transport {
	return &Transport{Name: name}
}

func (t *Transport) PortName() string { return t.Name }

func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return protocol.ErrPortClosed
	}
	if t.WriteErr != nil {
		t.mu.Unlock()
		return t.WriteErr
	}
	t.written = append(t.written, data...)
	respond := t.Respond
	t.mu.Unlock()

	if respond != nil {
		if reply := respond(data); reply != nil {
			t.mu.Lock()
			t.buffer = append(t.buffer, reply...)
			t.mu.Unlock()
		}
	}
	return nil
}

func (t *Transport) ReadAvailable() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := t.buffer
	t.buffer = nil
	return data
}

// WaitForReadyRead never blocks: data must already be buffered.
func (t *Transport) WaitForReadyRead(time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && len(t.buffer) > 0
}

func (t *Transport) OnReadyRead(fn func()) func() {
	return t.readyRead.Connect(func(struct{}) { fn() })
}

func (t *Transport) OnError(fn func(error)) func() {
	return t.errored.Connect(fn)
}

func (t *Transport) SetMode(mode protocol.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modes = append(t.modes, mode)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.buffer = nil
	return nil
}

// Deliver buffers data and emits a ready-read notification.
func (t *Transport) Deliver(data []byte) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.buffer = append(t.buffer, data...)
	t.mu.Unlock()
	t.readyRead.Emit(struct{}{})
}

// Fail emits an I/O error notification.
func (t *Transport) Fail(err error) {
	t.errored.Emit(err)
}

// Written returns everything written so far.
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Modes returns the modes applied with SetMode.
func (t *Transport) Modes() []protocol.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Mode(nil), t.modes...)
}

// ReadyReadSubscribers returns the number of live data-ready observers.
func (t *Transport) ReadyReadSubscribers() int {
	return t.readyRead.Len()
}

// ErrorSubscribers returns the number of live error observers.
func (t *Transport) ErrorSubscribers() int {
	return t.errored.Len()
}

// ErrOpenRefused is returned by Opener for ports listed in Refuse.
var ErrOpenRefused = errors.New("open refused")

// Opener hands out Transports built by New, or refuses ports in Refuse.
type Opener struct {
	// New builds the transport for a port. Defaults to NewTransport.
	New    func(port model.PortDescriptor) *Transport
	Refuse map[string]error

	mu     sync.Mutex
	opened []string
	modes  []protocol.Mode
	last   map[string]*Transport
}

func (o *Opener) Open(port model.PortDescriptor, mode protocol.Mode) (protocol.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = append(o.opened, port.Name)
	o.modes = append(o.modes, mode)
	if err, refused := o.Refuse[port.Name]; refused {
		if err == nil {
			err = ErrOpenRefused
		}
		return nil, err
	}

	var t *Transport
	if o.New != nil {
		t = o.New(port)
	} else {
		t = NewTransport(port.Name)
	}
	if o.last == nil {
		o.last = make(map[string]*Transport)
	}
	o.last[port.Name] = t
	return t, nil
}

// Opened returns the port names passed to Open, in call order.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// Transport returns the most recent transport opened for name.
func (o *Opener) Transport(name string) *Transport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[name]
}

// LastMode returns the mode used by the latest Open call.
func (o *Opener) LastMode() protocol.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.modes) == 0 {
		return protocol.Mode{}
	}
	return o.modes[len(o.modes)-1]
}
