package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comlink-service/internal/eventloop"
	"comlink-service/internal/identify"
	"comlink-service/internal/model"
	"comlink-service/internal/notify"
	"comlink-service/internal/protocol"
	"comlink-service/internal/protocol/protocoltest"
)

var handshake = identify.Config{
	Command:          []byte("ID?\n"),
	ExpectedResponse: []byte("OK"),
	Timeout:          500 * time.Millisecond,
}

type fakeLister struct {
	ports []model.PortDescriptor
	err   error
}

func (l *fakeLister) ListPorts() ([]model.PortDescriptor, error) {
	if l.err != nil {
		return nil, l.err
	}
	return append([]model.PortDescriptor(nil), l.ports...), nil
}

type fakeMonitor struct {
	added   notify.Signal[model.PortDescriptor]
	removed notify.Signal[model.PortDescriptor]
}

func (f *fakeMonitor) OnPortAdded(fn func(model.PortDescriptor)) func() {
	return f.added.Connect(fn)
}

func (f *fakeMonitor) OnPortRemoved(fn func(model.PortDescriptor)) func() {
	return f.removed.Connect(fn)
}

// fixture drives a manager from the test goroutine, which plays the loop.
type fixture struct {
	t         *testing.T
	opener    *protocoltest.Opener
	lister    *fakeLister
	monitor   *fakeMonitor
	scheduler *eventloop.ManualScheduler
	manager   *ConnectionManager
	events    []string
	errs      []error
}

func newFixture(t *testing.T, blocking bool, ports ...model.PortDescriptor) *fixture {
	f := &fixture{
		t:         t,
		opener:    &protocoltest.Opener{},
		lister:    &fakeLister{ports: ports},
		monitor:   &fakeMonitor{},
		scheduler: &eventloop.ManualScheduler{},
	}

	factory := func() identify.Identifier {
		if blocking {
			return identify.NewBlocking(handshake)
		}
		return identify.NewNonBlocking(handshake, f.scheduler)
	}

	f.manager = NewConnectionManager(f.opener, f.lister, f.monitor, factory, zap.NewNop())
	f.manager.OnConnected(func(port string) {
		f.check()
		f.events = append(f.events, "connected:"+port)
	})
	f.manager.OnDisconnected(func() {
		f.check()
		f.events = append(f.events, "disconnected")
	})
	f.manager.OnDataReceived(func(data []byte) {
		f.events = append(f.events, "data:"+string(data))
	})
	f.manager.OnError(func(err error) {
		f.check()
		f.errs = append(f.errs, err)
		f.events = append(f.events, "error:"+err.Error())
	})
	return f
}

// check asserts that the transport is open exactly when the state says so
// and that every other transport handed out has been closed.
func (f *fixture) check() {
	f.t.Helper()
	m := f.manager
	switch m.State() {
	case StateDisconnected:
		assert.Nil(f.t, m.transport, "disconnected with an open transport")
		assert.Nil(f.t, m.identifier)
	case StateIdentifying:
		require.NotNil(f.t, m.transport, "identifying without a transport")
		assert.NotNil(f.t, m.identifier, "identifying without an identifier")
	case StateConnected:
		require.NotNil(f.t, m.transport, "connected without a transport")
		for _, queued := range m.queue {
			assert.NotEqual(f.t, m.port.Name, queued.Name, "active port queued")
		}
	}
	assert.Equal(f.t, m.State() == StateConnected, m.IsConnected())

	for _, name := range f.opener.Opened() {
		tr := f.opener.Transport(name)
		if tr == nil {
			continue
		}
		if m.transport == protocol.Transport(tr) {
			assert.False(f.t, tr.Closed(), "active transport %s closed", name)
		} else {
			assert.True(f.t, tr.Closed(), "stale transport %s left open", name)
		}
	}
}

func (f *fixture) autoConnect(filter model.PortFilter) {
	f.t.Helper()
	require.NoError(f.t, f.manager.AutoConnect(filter))
	f.check()
}

func (f *fixture) respondOK() {
	f.opener.New = func(port model.PortDescriptor) *protocoltest.Transport {
		tr := protocoltest.NewTransport(port.Name)
		tr.Respond = func([]byte) []byte { return []byte("OK\n") }
		return tr
	}
}

func (f *fixture) connectNonBlocking(port string) *protocoltest.Transport {
	f.t.Helper()
	tr := f.opener.Transport(port)
	require.NotNil(f.t, tr)
	tr.Deliver([]byte("OK\r\n"))
	require.Equal(f.t, StateConnected, f.manager.State())
	f.check()
	return tr
}

func port(name string) model.PortDescriptor {
	return model.PortDescriptor{Name: name}
}

func usbPort(name string, vid, pid uint16) model.PortDescriptor {
	return model.PortDescriptor{Name: name, IsUSB: true, VendorID: model.USBID(vid), ProductID: model.USBID(pid)}
}

func TestManager_FilterExhaustsQueue(t *testing.T) {
	f := newFixture(t, false, usbPort("COM1", 0x1111, 0x0001), usbPort("COM2", 0x2222, 0x0002))

	f.autoConnect(model.PortFilter{VendorID: model.USBID(0x9999)})

	assert.Empty(t, f.opener.Opened())
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Empty(t, f.events)
	assert.Zero(t, f.manager.Status().Candidates)
}

func TestManager_BlockingIdentifies(t *testing.T) {
	f := newFixture(t, true, port("COM_X"))
	f.respondOK()

	f.autoConnect(model.PortFilter{})

	assert.Equal(t, StateConnected, f.manager.State())
	assert.True(t, f.manager.IsConnected())
	assert.Equal(t, []string{"connected:COM_X"}, f.events)
	assert.Equal(t, []byte("ID?\n"), f.opener.Transport("COM_X").Written())
	assert.Equal(t, "COM_X", f.manager.PortName())
}

func TestManager_BlockingMismatchDisconnects(t *testing.T) {
	f := newFixture(t, true, port("COM_X"))
	f.opener.New = func(p model.PortDescriptor) *protocoltest.Transport {
		tr := protocoltest.NewTransport(p.Name)
		tr.Respond = func([]byte) []byte { return []byte("NO\n") }
		return tr
	}

	f.autoConnect(model.PortFilter{})

	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Equal(t, []string{"COM_X"}, f.opener.Opened())
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrIdentification)
	assert.ErrorIs(t, f.errs[0], identify.ErrMismatch)
	assert.Contains(t, f.events[0], "error:identification failed: ")
	assert.True(t, f.opener.Transport("COM_X").Closed())
}

func TestManager_RemovedActivePortDisconnects(t *testing.T) {
	f := newFixture(t, false, port("COM_X"))
	f.autoConnect(model.PortFilter{})
	tr := f.connectNonBlocking("COM_X")

	f.monitor.removed.Emit(port("COM_X"))
	f.check()

	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Equal(t, []string{"connected:COM_X", "disconnected"}, f.events)
	assert.True(t, tr.Closed())

	written := tr.Written()
	require.NoError(t, f.manager.Send([]byte("ping")))
	assert.Equal(t, written, tr.Written())
}

func TestManager_LateResponseAfterTimeoutIsIgnored(t *testing.T) {
	f := newFixture(t, false, port("COM1"), port("COM2"))
	f.autoConnect(model.PortFilter{})
	first := f.opener.Transport("COM1")

	armed := f.scheduler.Armed()
	require.Len(t, armed, 1)
	assert.Equal(t, handshake.Timeout, armed[0].Duration)
	armed[0].Fire()
	f.check()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], identify.ErrTimeout)
	assert.Zero(t, first.ReadyReadSubscribers())
	assert.Zero(t, first.ErrorSubscribers())
	assert.Equal(t, []string{"COM1", "COM2"}, f.opener.Opened())
	assert.Equal(t, StateIdentifying, f.manager.State())

	first.Deliver([]byte("OK\n"))
	f.check()
	assert.Equal(t, StateIdentifying, f.manager.State())
	assert.Equal(t, "COM2", f.manager.PortName())
	assert.Len(t, f.errs, 1)
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	f.connectNonBlocking("COM1")

	f.manager.Disconnect()
	f.check()
	f.manager.Disconnect()
	f.check()

	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Equal(t, []string{"connected:COM1", "disconnected"}, f.events)
}

func TestManager_DisconnectWhileIdentifying(t *testing.T) {
	f := newFixture(t, false, port("COM1"), port("COM2"))
	f.autoConnect(model.PortFilter{})
	first := f.opener.Transport("COM1")

	f.manager.Disconnect()
	f.check()

	assert.Empty(t, f.events, "canceling identification is silent")
	assert.True(t, first.Closed())
	assert.Zero(t, first.ReadyReadSubscribers())
	assert.Equal(t, "COM2", f.manager.PortName())
	assert.Len(t, f.scheduler.Armed(), 1, "only the second attempt's timer is armed")

	f.connectNonBlocking("COM2")
	assert.Equal(t, []string{"connected:COM2"}, f.events)
}

func TestManager_RemovedQueuedPortIsDropped(t *testing.T) {
	f := newFixture(t, false, port("COM1"), port("COM2"), port("COM3"))
	f.autoConnect(model.PortFilter{})

	f.monitor.removed.Emit(port("COM2"))
	f.check()
	assert.Equal(t, StateIdentifying, f.manager.State())
	assert.Equal(t, 1, f.manager.Status().Candidates)

	f.scheduler.FireAll()
	f.check()
	assert.Equal(t, []string{"COM1", "COM3"}, f.opener.Opened())
}

func TestManager_PortAddedWhileIdle(t *testing.T) {
	f := newFixture(t, false)
	f.autoConnect(model.PortFilter{})
	assert.Empty(t, f.opener.Opened())

	f.monitor.added.Emit(port("COM3"))
	f.check()

	assert.Equal(t, []string{"COM3"}, f.opener.Opened())
	assert.Equal(t, StateIdentifying, f.manager.State())
}

func TestManager_PortAddedRespectsFilter(t *testing.T) {
	f := newFixture(t, false)
	f.autoConnect(model.PortFilter{VendorID: model.USBID(0x2341)})

	f.monitor.added.Emit(usbPort("COM4", 0x0403, 0x6001))
	f.monitor.added.Emit(port("COM5"))
	assert.Empty(t, f.opener.Opened())

	f.monitor.added.Emit(usbPort("COM6", 0x2341, 0x0043))
	f.check()
	assert.Equal(t, []string{"COM6"}, f.opener.Opened())
}

func TestManager_PortAddedWhileIdentifyingIsQueued(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})

	f.monitor.added.Emit(port("COM2"))
	f.monitor.added.Emit(port("COM2"))
	f.check()
	assert.Equal(t, []string{"COM1"}, f.opener.Opened())
	assert.Equal(t, 1, f.manager.Status().Candidates)

	f.scheduler.FireAll()
	f.check()
	assert.Equal(t, []string{"COM1", "COM2"}, f.opener.Opened())
}

func TestManager_PortAddedWhileConnectedIsTriedAfterRemoval(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	f.connectNonBlocking("COM1")

	f.monitor.added.Emit(port("COM2"))
	f.check()
	assert.Equal(t, StateConnected, f.manager.State())
	assert.Equal(t, 1, f.manager.Status().Candidates)
	assert.Equal(t, []string{"COM1"}, f.opener.Opened())

	f.monitor.removed.Emit(port("COM1"))
	f.check()
	assert.Equal(t, []string{"COM1", "COM2"}, f.opener.Opened())
	assert.Equal(t, StateIdentifying, f.manager.State())
	assert.Equal(t, "COM2", f.manager.PortName())
}

func TestManager_PortAddedWhileConnectedIsTriedAfterDisconnect(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	f.connectNonBlocking("COM1")

	f.monitor.added.Emit(port("COM2"))
	f.monitor.added.Emit(port("COM2"))
	f.check()
	assert.Equal(t, 1, f.manager.Status().Candidates)

	f.manager.Disconnect()
	f.check()
	assert.Equal(t, []string{"COM1", "COM2"}, f.opener.Opened())
}

func TestManager_PortChangesBeforeAutoConnectAreIgnored(t *testing.T) {
	f := newFixture(t, false)
	assert.Zero(t, f.monitor.added.Len())

	require.NoError(t, f.manager.AutoConnect(model.PortFilter{}))
	require.NoError(t, f.manager.AutoConnect(model.PortFilter{}))
	assert.Equal(t, 1, f.monitor.added.Len())
	assert.Equal(t, 1, f.monitor.removed.Len())
}

func TestManager_TransportErrorWhileIdentifying(t *testing.T) {
	f := newFixture(t, false, port("COM1"), port("COM2"))
	f.autoConnect(model.PortFilter{})

	f.opener.Transport("COM1").Fail(errors.New("device reports EIO"))
	f.check()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrIdentification)
	assert.ErrorIs(t, f.errs[0], ErrTransportIO)
	assert.Equal(t, "error:identification failed: transport i/o error: device reports EIO", f.events[0])
	assert.NotContains(t, f.events, "disconnected")
	assert.Equal(t, "COM2", f.manager.PortName())
	assert.Len(t, f.scheduler.Armed(), 1)
}

func TestManager_TransportErrorWhileConnected(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	tr := f.connectNonBlocking("COM1")

	tr.Fail(errors.New("cable pulled"))
	f.check()

	assert.Equal(t, []string{
		"connected:COM1",
		"disconnected",
		"error:transport i/o error: cable pulled",
	}, f.events)
	assert.False(t, f.manager.IsConnected())
}

func TestManager_DataForwardedOnlyWhenConnected(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	tr := f.connectNonBlocking("COM1")

	tr.Deliver([]byte("hello"))
	tr.Deliver([]byte(" world"))

	assert.Equal(t, []string{"connected:COM1", "data:hello", "data: world"}, f.events)

	f.manager.Disconnect()
	tr.Deliver([]byte("late"))
	assert.NotContains(t, f.events, "data:late")
}

func TestManager_OpenFailureAdvances(t *testing.T) {
	f := newFixture(t, false, port("COM1"), port("COM2"))
	f.opener.Refuse = map[string]error{"COM1": nil}

	f.autoConnect(model.PortFilter{})

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrPortOpen)
	assert.ErrorIs(t, f.errs[0], protocoltest.ErrOpenRefused)
	assert.Equal(t, "error:failed to open port COM1: open refused", f.events[0])
	assert.Equal(t, "COM2", f.manager.PortName())
	assert.Equal(t, StateIdentifying, f.manager.State())
}

func TestManager_AutoConnectErrors(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.lister.err = fmt.Errorf("%w: access denied", ErrPortEnumeration)

	err := f.manager.AutoConnect(model.PortFilter{})
	assert.ErrorIs(t, err, ErrPortEnumeration)
	assert.False(t, f.manager.Status().AutoConnect)

	f.lister.err = nil
	f.autoConnect(model.PortFilter{})
	assert.ErrorIs(t, f.manager.AutoConnect(model.PortFilter{}), ErrNotDisconnected)
}

func TestManager_Send(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	require.NoError(t, f.manager.Send([]byte("nobody home")))

	f.autoConnect(model.PortFilter{})
	require.NoError(t, f.manager.Send([]byte("too early")))
	tr := f.connectNonBlocking("COM1")

	require.NoError(t, f.manager.Send([]byte("AT\r\n")))
	assert.Equal(t, []byte("ID?\nAT\r\n"), tr.Written())

	tr.WriteErr = errors.New("write timeout")
	err := f.manager.Send([]byte("AT\r\n"))
	assert.ErrorIs(t, err, ErrTransportIO)
	f.check()
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Contains(t, f.events, "disconnected")
}

func TestManager_Configure(t *testing.T) {
	f := newFixture(t, false, port("COM1"))

	bad := protocol.DefaultMode()
	bad.DataBits = 9
	assert.ErrorIs(t, f.manager.Configure(bad), protocol.ErrInvalidMode)

	mode := protocol.DefaultMode()
	mode.BaudRate = 9600
	require.NoError(t, f.manager.Configure(mode))

	f.autoConnect(model.PortFilter{})
	assert.Equal(t, 9600, f.opener.LastMode().BaudRate)

	tr := f.connectNonBlocking("COM1")
	mode.Parity = protocol.ParityEven
	require.NoError(t, f.manager.Configure(mode))
	assert.Equal(t, []protocol.Mode{mode}, tr.Modes())
	assert.Equal(t, StateConnected, f.manager.State())
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t, false, port("COM1"))
	f.autoConnect(model.PortFilter{})
	tr := f.connectNonBlocking("COM1")

	f.manager.Close()
	f.check()

	assert.True(t, tr.Closed())
	assert.Equal(t, []string{"connected:COM1"}, f.events)
	assert.Zero(t, f.monitor.added.Len())
	assert.Zero(t, f.monitor.removed.Len())
	assert.ErrorIs(t, f.manager.AutoConnect(model.PortFilter{}), ErrManagerClosed)
}

func TestManager_Status(t *testing.T) {
	f := newFixture(t, false, usbPort("COM1", 0x0403, 0x6001), port("COM2"))
	filter := model.PortFilter{}

	status := f.manager.Status()
	assert.Equal(t, StateDisconnected, status.State)
	assert.False(t, status.AutoConnect)

	f.autoConnect(filter)
	status = f.manager.Status()
	assert.Equal(t, StateIdentifying, status.State)
	assert.Equal(t, "COM1", status.Port)
	assert.Equal(t, "0403:6001", status.USBID)
	assert.Equal(t, 1, status.Candidates)
	assert.Nil(t, status.ConnectedAt)

	f.connectNonBlocking("COM1")
	status = f.manager.Status()
	assert.Equal(t, StateConnected, status.State)
	assert.NotNil(t, status.ConnectedAt)
	assert.Zero(t, status.Candidates)

	text, err := status.State.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(text))
}
