package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

type inlineDispatcher struct{}

func (inlineDispatcher) Post(fn func()) bool {
	fn()
	return true
}

type scriptedLister struct {
	snapshots [][]model.PortDescriptor
	err       error
}

func (l *scriptedLister) ListPorts() ([]model.PortDescriptor, error) {
	if l.err != nil {
		return nil, l.err
	}
	next := l.snapshots[0]
	if len(l.snapshots) > 1 {
		l.snapshots = l.snapshots[1:]
	}
	return next, nil
}

func ports(names ...string) []model.PortDescriptor {
	out := make([]model.PortDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, model.PortDescriptor{Name: n})
	}
	return out
}

type recorder struct {
	events []string
}

func watch(m *PortMonitor) *recorder {
	r := &recorder{}
	m.OnPortAdded(func(p model.PortDescriptor) { r.events = append(r.events, "+"+p.Name) })
	m.OnPortRemoved(func(p model.PortDescriptor) { r.events = append(r.events, "-"+p.Name) })
	return r
}

func TestPortMonitor_FirstScanSeedsSilently(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]model.PortDescriptor{ports("COM1", "COM2")}}
	m := NewPortMonitor(lister, inlineDispatcher{}, 0, zap.NewNop())
	r := watch(m)

	m.poll()

	assert.Empty(t, r.events)
	assert.Len(t, m.known, 2)
	assert.Equal(t, DefaultPollInterval, m.Interval())
}

func TestPortMonitor_ReportsDelta(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]model.PortDescriptor{
		ports("COM1", "COM2"),
		ports("COM2", "COM4", "COM3"),
		ports("COM2", "COM4", "COM3"),
	}}
	m := NewPortMonitor(lister, inlineDispatcher{}, 0, zap.NewNop())
	r := watch(m)

	m.poll()
	m.poll()
	assert.Equal(t, []string{"-COM1", "+COM3", "+COM4"}, r.events)

	m.poll()
	assert.Len(t, r.events, 3)
}

func TestPortMonitor_RemovedCarriesLastKnownDescriptor(t *testing.T) {
	usb := model.PortDescriptor{Name: "/dev/ttyUSB0", IsUSB: true, VendorID: model.USBID(0x0403), ProductID: model.USBID(0x6001)}
	lister := &scriptedLister{snapshots: [][]model.PortDescriptor{{usb}, nil}}
	m := NewPortMonitor(lister, inlineDispatcher{}, 0, zap.NewNop())

	var removed []model.PortDescriptor
	m.OnPortRemoved(func(p model.PortDescriptor) { removed = append(removed, p) })

	m.poll()
	m.poll()

	require.Len(t, removed, 1)
	assert.Equal(t, "0403:6001", removed[0].USBID())
}

func TestPortMonitor_EnumerationFailureKeepsSnapshot(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]model.PortDescriptor{ports("COM1")}}
	m := NewPortMonitor(lister, inlineDispatcher{}, 0, zap.NewNop())
	r := watch(m)

	m.poll()
	lister.err = errors.New("boom")
	m.poll()
	lister.err = nil
	m.poll()

	assert.Empty(t, r.events)
	assert.Contains(t, m.known, "COM1")
}

func TestEnumeratorLister_DescribesAndSorts(t *testing.T) {
	l := NewEnumeratorLister(zap.NewNop())
	l.list = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "10c4", PID: "ea60", SerialNumber: "0001"},
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "10c4", PID: "ea60"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "zzzz", PID: "0043"},
			nil,
		}, nil
	}

	got, err := l.ListPorts()
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "/dev/ttyACM0", got[0].Name)
	assert.Nil(t, got[0].VendorID)
	require.NotNil(t, got[0].ProductID)
	assert.Equal(t, uint16(0x0043), *got[0].ProductID)

	assert.Equal(t, "/dev/ttyS0", got[1].Name)
	assert.False(t, got[1].IsUSB)

	assert.Equal(t, "10C4:EA60", got[2].USBID())
	assert.Equal(t, "0001", got[2].SerialNumber)
}

func TestEnumeratorLister_WrapsError(t *testing.T) {
	l := NewEnumeratorLister(zap.NewNop())
	l.list = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("permission denied") }

	_, err := l.ListPorts()
	assert.ErrorIs(t, err, ErrEnumeration)
}
