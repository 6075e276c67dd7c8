package protocol

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

// fakePort feeds queued chunks to Read and records writes.
type fakePort struct {
	serial.Port

	mu      sync.Mutex
	written []byte
	mode    *serial.Mode
	reads   chan []byte
	readErr chan error
	closed  chan struct{}
	once    sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:   make(chan []byte, 8),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.reads:
		return copy(b, chunk), nil
	case err := <-p.readErr:
		return 0, err
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) SetMode(m *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// inlineDispatcher runs posted work immediately on the caller's goroutine.
type inlineDispatcher struct{}

func (inlineDispatcher) Post(fn func()) bool {
	fn()
	return true
}

func openFake(t *testing.T) (*SerialConnection, *fakePort) {
	t.Helper()
	port := newFakePort()
	opener := NewSerialOpener(inlineDispatcher{}, zap.NewNop())
	opener.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		port.mode = mode
		return port, nil
	}

	tr, err := opener.Open(model.PortDescriptor{Name: "/dev/ttyFAKE0"}, DefaultMode())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr.(*SerialConnection), port
}

func TestSerialOpener_OpenFailure(t *testing.T) {
	opener := NewSerialOpener(inlineDispatcher{}, zap.NewNop())
	opener.openPort = func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("no such device")
	}

	_, err := opener.Open(model.PortDescriptor{Name: "/dev/ttyGONE"}, DefaultMode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/ttyGONE")
}

func TestSerialOpener_RejectsFlowControl(t *testing.T) {
	opener := NewSerialOpener(inlineDispatcher{}, zap.NewNop())
	mode := DefaultMode()
	mode.FlowControl = FlowControlSoftware

	_, err := opener.Open(model.PortDescriptor{Name: "/dev/ttyUSB0"}, mode)
	assert.ErrorIs(t, err, ErrUnsupportedFlowControl)
}

func TestSerialConnection_WriteAndRead(t *testing.T) {
	tr, port := openFake(t)

	require.NoError(t, tr.Write([]byte("ID?\n")))
	port.mu.Lock()
	assert.Equal(t, "ID?\n", string(port.written))
	port.mu.Unlock()

	notified := make(chan struct{}, 4)
	cancel := tr.OnReadyRead(func() { notified <- struct{}{} })
	defer cancel()

	port.reads <- []byte("OK\n")
	require.True(t, tr.WaitForReadyRead(time.Second))
	assert.Equal(t, "OK\n", string(tr.ReadAvailable()))
	assert.Nil(t, tr.ReadAvailable())

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no ready-read notification")
	}

	stats := tr.Stats()
	assert.EqualValues(t, 4, stats.BytesWritten)
	assert.EqualValues(t, 3, stats.BytesRead)
}

func TestSerialConnection_WaitTimesOut(t *testing.T) {
	tr, _ := openFake(t)
	start := time.Now()
	assert.False(t, tr.WaitForReadyRead(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSerialConnection_ReadErrorNotifies(t *testing.T) {
	tr, port := openFake(t)

	errs := make(chan error, 1)
	tr.OnError(func(err error) { errs <- err })
	port.readErr <- errors.New("device unplugged")

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "device unplugged")
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
}

func TestSerialConnection_Close(t *testing.T) {
	tr, _ := openFake(t)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Write([]byte("x")), ErrPortClosed)
	assert.False(t, tr.WaitForReadyRead(time.Second))
}

func TestSerialConnection_SetMode(t *testing.T) {
	tr, port := openFake(t)

	mode := DefaultMode()
	mode.BaudRate = 9600
	require.NoError(t, tr.SetMode(mode))
	port.mu.Lock()
	assert.Equal(t, 9600, port.mode.BaudRate)
	port.mu.Unlock()
}
