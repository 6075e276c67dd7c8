// internal/service/connection_manager.go
package service

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"comlink-service/internal/discovery"
	"comlink-service/internal/identify"
	"comlink-service/internal/model"
	"comlink-service/internal/notify"
	"comlink-service/internal/protocol"
	"comlink-service/internal/utils"
)

// PortSource reports ports appearing and disappearing
type PortSource interface {
	OnPortAdded(fn func(model.PortDescriptor)) (cancel func())
	OnPortRemoved(fn func(model.PortDescriptor)) (cancel func())
}

// ConnectionManager owns the single connection slot: it walks the candidate
// queue, opens ports, runs one identification attempt at a time and reports
// the connection lifecycle through its On* signals.
//
// Every method except IsConnected and the On* registrations must be called
// on the event loop that also delivers transport, timer and monitor
// notifications. LinkService wraps the manager for use from other goroutines.
type ConnectionManager struct {
	opener      protocol.Opener
	lister      discovery.PortLister
	monitor     PortSource
	identifiers identify.Factory
	logger      *utils.LinkLogger
	now         func() time.Time

	mode        protocol.Mode
	state       State
	transport   protocol.Transport
	port        model.PortDescriptor
	identifier  identify.Identifier
	attempt     uint64
	startedAt   time.Time
	connectedAt time.Time
	queue       []model.PortDescriptor
	filter      model.PortFilter
	cycle       bool
	closed      bool

	monitorSubs   []func()
	transportSubs []func()

	isConnected atomic.Bool

	connected    notify.Signal[string]
	disconnected notify.Signal[struct{}]
	dataReceived notify.Signal[[]byte]
	errored      notify.Signal[error]
}

// NewConnectionManager creates a manager in the Disconnected state using the
// default serial mode. monitor may be nil, in which case only the snapshot
// taken by AutoConnect is considered.
func NewConnectionManager(
	opener protocol.Opener,
	lister discovery.PortLister,
	monitor PortSource,
	identifiers identify.Factory,
	logger *zap.Logger,
) *ConnectionManager {
	return &ConnectionManager{
		opener:      opener,
		lister:      lister,
		monitor:     monitor,
		identifiers: identifiers,
		logger:      utils.NewLinkLogger(logger),
		now:         time.Now,
		mode:        protocol.DefaultMode(),
	}
}

// OnConnected registers fn for successful identifications; fn receives the port name
func (m *ConnectionManager) OnConnected(fn func(port string)) (cancel func()) {
	return m.connected.Connect(fn)
}

// OnDisconnected registers fn for the end of an established connection
func (m *ConnectionManager) OnDisconnected(fn func()) (cancel func()) {
	return m.disconnected.Connect(func(struct{}) { fn() })
}

// OnDataReceived registers fn for inbound bytes while connected
func (m *ConnectionManager) OnDataReceived(fn func(data []byte)) (cancel func()) {
	return m.dataReceived.Connect(fn)
}

// OnError registers fn for recoverable failures
func (m *ConnectionManager) OnError(fn func(err error)) (cancel func()) {
	return m.errored.Connect(fn)
}

// IsConnected reports whether a device is identified. Safe from any goroutine.
func (m *ConnectionManager) IsConnected() bool {
	return m.isConnected.Load()
}

// State returns the current lifecycle state
func (m *ConnectionManager) State() State {
	return m.state
}

// PortName returns the port of the open transport, or ""
func (m *ConnectionManager) PortName() string {
	if m.transport == nil {
		return ""
	}
	return m.port.Name
}

// Status returns a snapshot of the manager
func (m *ConnectionManager) Status() Status {
	status := Status{
		State:       m.state,
		Port:        m.PortName(),
		Filter:      m.filter,
		AutoConnect: m.cycle,
		Candidates:  len(m.queue),
		Mode:        m.mode,
	}
	if m.transport != nil {
		status.USBID = m.port.USBID()
		if reporter, ok := m.transport.(protocol.StatsReporter); ok {
			stats := reporter.Stats()
			status.Transport = &stats
		}
	}
	if m.state == StateConnected {
		at := m.connectedAt
		status.ConnectedAt = &at
	}
	return status
}

// Mode returns the line settings used for open attempts
func (m *ConnectionManager) Mode() protocol.Mode {
	return m.mode
}

// Configure validates and stores the line settings for future open
// attempts, and applies them to the open transport if there is one.
// It never changes the lifecycle state.
func (m *ConnectionManager) Configure(mode protocol.Mode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	m.mode = mode
	m.logger.Info("Serial mode configured", zap.Stringer("mode", mode))

	if m.transport != nil {
		if err := m.transport.SetMode(mode); err != nil {
			return fmt.Errorf("apply mode to %s: %w", m.port.Name, err)
		}
	}
	return nil
}

// AutoConnect starts an auto-connect cycle: it snapshots the available
// ports into the candidate queue, follows the port monitor from now on and
// tries the first candidate. The filter replaces any previous one.
func (m *ConnectionManager) AutoConnect(filter model.PortFilter) error {
	if m.closed {
		return ErrManagerClosed
	}
	if m.state != StateDisconnected {
		return fmt.Errorf("%w: link is %s", ErrNotDisconnected, m.state)
	}

	ports, err := m.lister.ListPorts()
	if err != nil {
		m.logger.Warn("Port enumeration failed, auto-connect not started", zap.Error(err))
		return enumerationError(err)
	}

	m.filter = filter
	m.queue = m.queue[:0]
	for _, p := range ports {
		m.enqueue(p)
	}
	m.cycle = true
	m.follow()

	m.logger.Info("Auto-connect started",
		zap.Stringer("filter", filter),
		zap.Int("candidates", len(m.queue)),
	)

	m.tryNext()
	return nil
}

// Disconnect closes the transport, if any, and returns to Disconnected.
// The disconnected signal fires only when a connection was established.
// Remaining candidates of the current cycle are tried afterwards.
func (m *ConnectionManager) Disconnect() {
	if m.closed {
		return
	}
	m.disconnect()
	m.tryNext()
}

// Send writes data to the connected device. It is a no-op unless connected.
func (m *ConnectionManager) Send(data []byte) error {
	if m.state != StateConnected || len(data) == 0 {
		return nil
	}
	if err := m.transport.Write(data); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrTransportIO, err)
		m.onTransportError(m.attempt, err)
		return wrapped
	}
	return nil
}

// Close ends the auto-connect cycle for good: it stops following the
// monitor, tears down any attempt or connection and emits nothing further.
func (m *ConnectionManager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cycle = false
	m.queue = nil

	for _, cancel := range m.monitorSubs {
		cancel()
	}
	m.monitorSubs = nil

	m.teardown()
	m.logger.Info("Connection manager closed")
}

// follow subscribes to the monitor once per manager
func (m *ConnectionManager) follow() {
	if m.monitor == nil || m.monitorSubs != nil {
		return
	}
	m.monitorSubs = append(m.monitorSubs,
		m.monitor.OnPortAdded(m.onPortAdded),
		m.monitor.OnPortRemoved(m.onPortRemoved),
	)
}

// tryNext pops candidates until one passes the filter and opens.
// Open failures are reported and skipped; filtered candidates are dropped.
func (m *ConnectionManager) tryNext() {
	for !m.closed && m.transport == nil && m.state == StateDisconnected && len(m.queue) > 0 {
		candidate := m.queue[0]
		m.queue = m.queue[1:]

		if !m.filter.Matches(candidate) {
			m.logger.Debug("Candidate rejected by filter",
				zap.String("port", candidate.Name),
				zap.String("usb_id", candidate.USBID()),
				zap.Stringer("filter", m.filter),
			)
			continue
		}

		transport, err := m.opener.Open(candidate, m.mode)
		m.logger.LogOpen(candidate.Name, candidate.USBID(), err)
		if err != nil {
			m.errored.Emit(fmt.Errorf("%w %s: %w", ErrPortOpen, candidate.Name, err))
			continue
		}

		m.identify(candidate, transport)
		return
	}

	if m.cycle && !m.closed && m.state == StateDisconnected && len(m.queue) == 0 {
		m.logger.Debug("Candidate queue exhausted, waiting for new ports")
	}
}

// identify binds a fresh identifier to the newly opened transport
func (m *ConnectionManager) identify(candidate model.PortDescriptor, transport protocol.Transport) {
	m.attempt++
	attempt := m.attempt

	m.transport = transport
	m.port = candidate
	m.setState(StateIdentifying)

	m.transportSubs = append(m.transportSubs, transport.OnError(func(err error) {
		m.onTransportError(attempt, err)
	}))

	identifier := m.identifiers()
	m.identifier = identifier
	m.startedAt = m.now()
	identifier.Start(transport, func(err error) {
		m.onIdentified(attempt, err)
	})
}

func (m *ConnectionManager) onIdentified(attempt uint64, err error) {
	if attempt != m.attempt || m.state != StateIdentifying {
		return
	}
	m.identifier = nil
	m.logger.LogIdentification(m.port.Name, m.now().Sub(m.startedAt), err)

	if err != nil {
		m.teardown()
		m.errored.Emit(fmt.Errorf("%w: %w", ErrIdentification, err))
		m.tryNext()
		return
	}

	m.queue = nil
	m.connectedAt = m.now()
	m.setState(StateConnected)
	m.transportSubs = append(m.transportSubs, m.transport.OnReadyRead(func() {
		m.onReadyRead(attempt)
	}))
	m.connected.Emit(m.port.Name)
}

func (m *ConnectionManager) onReadyRead(attempt uint64) {
	if attempt != m.attempt || m.state != StateConnected {
		return
	}
	data := m.transport.ReadAvailable()
	if len(data) == 0 {
		return
	}
	m.dataReceived.Emit(data)
}

func (m *ConnectionManager) onTransportError(attempt uint64, err error) {
	if attempt != m.attempt || m.transport == nil {
		return
	}

	m.logger.Warn("Transport error",
		zap.String("port", m.port.Name),
		zap.Stringer("state", m.state),
		zap.Error(err),
	)

	switch m.state {
	case StateIdentifying:
		m.teardown()
		m.errored.Emit(fmt.Errorf("%w: %w: %w", ErrIdentification, ErrTransportIO, err))
	case StateConnected:
		m.disconnect()
		m.errored.Emit(fmt.Errorf("%w: %w", ErrTransportIO, err))
	}
	m.tryNext()
}

func (m *ConnectionManager) onPortAdded(desc model.PortDescriptor) {
	m.logger.LogPortChange("added", desc.Name, m.state.String())
	if m.closed || !m.cycle {
		return
	}
	if m.transport != nil && desc.Name == m.port.Name {
		return
	}

	// While connected the port waits in the queue for a later disconnect.
	m.enqueue(desc)
	if m.state != StateConnected {
		m.tryNext()
	}
}

func (m *ConnectionManager) onPortRemoved(desc model.PortDescriptor) {
	m.logger.LogPortChange("removed", desc.Name, m.state.String())
	if m.closed {
		return
	}
	if m.transport != nil && desc.Name == m.port.Name {
		m.Disconnect()
		return
	}
	m.dequeue(desc.Name)
}

// disconnect tears down and emits disconnected if a connection existed
func (m *ConnectionManager) disconnect() {
	previous := m.state
	m.teardown()
	if previous == StateConnected {
		m.disconnected.Emit(struct{}{})
	}
}

// teardown stops the identifier before anything else, then releases the
// transport. A canceled identifier's report arrives with a stale attempt
// and is ignored.
func (m *ConnectionManager) teardown() {
	m.attempt++

	if identifier := m.identifier; identifier != nil {
		m.identifier = nil
		identifier.Stop()
	}

	for _, cancel := range m.transportSubs {
		cancel()
	}
	m.transportSubs = nil

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Warn("Failed to close transport", zap.String("port", m.port.Name), zap.Error(err))
		}
		m.transport = nil
	}
	m.setState(StateDisconnected)
	m.port = model.PortDescriptor{}
	m.connectedAt = time.Time{}
}

func (m *ConnectionManager) setState(next State) {
	if m.state == next {
		return
	}
	previous := m.state
	m.state = next
	m.isConnected.Store(next == StateConnected)
	m.logger.LogTransition(previous.String(), next.String(), m.port.Name)
}

func (m *ConnectionManager) enqueue(desc model.PortDescriptor) {
	for _, queued := range m.queue {
		if queued.Name == desc.Name {
			return
		}
	}
	m.queue = append(m.queue, desc)
}

func (m *ConnectionManager) dequeue(name string) {
	kept := m.queue[:0]
	for _, queued := range m.queue {
		if queued.Name != name {
			kept = append(kept, queued)
		}
	}
	m.queue = kept
}
