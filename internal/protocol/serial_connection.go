// internal/protocol/serial_connection.go
package protocol

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"comlink-service/internal/eventloop"
	"comlink-service/internal/model"
	"comlink-service/internal/notify"
)

const (
	defaultReadTimeout = 100 * time.Millisecond
	readChunkSize      = 1024
)

// SerialOpener opens ports through go.bug.st/serial
type SerialOpener struct {
	dispatcher  eventloop.Dispatcher
	logger      *zap.Logger
	readTimeout time.Duration
	openPort    func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialOpener creates an opener whose transports post their
// notifications through dispatcher
func NewSerialOpener(dispatcher eventloop.Dispatcher, logger *zap.Logger) *SerialOpener {
	return &SerialOpener{
		dispatcher:  dispatcher,
		logger:      logger.With(zap.String("protocol", "serial")),
		readTimeout: defaultReadTimeout,
		openPort:    serial.Open,
	}
}

// Open opens the serial port and starts its reader goroutine
func (o *SerialOpener) Open(desc model.PortDescriptor, mode Mode) (Transport, error) {
	serialMode, err := mode.serialMode()
	if err != nil {
		return nil, err
	}

	o.logger.Info("Opening serial port",
		zap.String("port", desc.Name),
		zap.Int("baud_rate", mode.BaudRate),
	)

	port, err := o.openPort(desc.Name, serialMode)
	if err != nil {
		o.logger.Warn("Failed to open serial port", zap.String("port", desc.Name), zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port %s: %w", desc.Name, err)
	}

	// Short read timeout so the reader goroutine notices Close promptly
	if err := port.SetReadTimeout(o.readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	t := newSerialConnection(desc.Name, port, o.dispatcher, o.logger.With(zap.String("port", desc.Name)))
	go t.readLoop()

	o.logger.Info("Serial port opened successfully", zap.String("port", desc.Name))
	return t, nil
}

// SerialConnection implements Transport for go.bug.st serial ports
type SerialConnection struct {
	name       string
	port       serial.Port
	dispatcher eventloop.Dispatcher
	logger     *zap.Logger

	mutex  sync.Mutex
	buffer []byte
	closed bool
	stats  Stats

	ready chan struct{}
	done  chan struct{}

	readyRead notify.Signal[struct{}]
	errored   notify.Signal[error]
}

func newSerialConnection(name string, port serial.Port, dispatcher eventloop.Dispatcher, logger *zap.Logger) *SerialConnection {
	now := time.Now()
	return &SerialConnection{
		name:       name,
		port:       port,
		dispatcher: dispatcher,
		logger:     logger,
		ready:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		stats:      Stats{OpenedAt: now, LastActivity: now},
	}
}

// PortName returns the system port name
func (sc *SerialConnection) PortName() string {
	return sc.name
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(data []byte) error {
	sc.mutex.Lock()
	if sc.closed {
		sc.mutex.Unlock()
		return ErrPortClosed
	}
	sc.mutex.Unlock()

	n, err := sc.port.Write(data)
	if err != nil {
		sc.countError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.mutex.Lock()
	sc.stats.BytesWritten += int64(n)
	sc.stats.LastActivity = time.Now()
	sc.mutex.Unlock()

	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return nil
}

// ReadAvailable drains the receive buffer
func (sc *SerialConnection) ReadAvailable() []byte {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	// Drop a pending wake-up; the bytes it announced are returned now
	select {
	case <-sc.ready:
	default:
	}

	if len(sc.buffer) == 0 {
		return nil
	}
	data := sc.buffer
	sc.buffer = nil
	return data
}

// WaitForReadyRead blocks the caller until data is buffered or timeout elapses
func (sc *SerialConnection) WaitForReadyRead(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if sc.buffered() > 0 {
			return true
		}
		select {
		case <-sc.ready:
		case <-timer.C:
			return sc.buffered() > 0
		case <-sc.done:
			return false
		}
	}
}

// OnReadyRead registers fn for data-ready notifications
func (sc *SerialConnection) OnReadyRead(fn func()) func() {
	return sc.readyRead.Connect(func(struct{}) { fn() })
}

// OnError registers fn for I/O error notifications
func (sc *SerialConnection) OnError(fn func(error)) func() {
	return sc.errored.Connect(fn)
}

// SetMode reconfigures the open port
func (sc *SerialConnection) SetMode(mode Mode) error {
	serialMode, err := mode.serialMode()
	if err != nil {
		return err
	}
	if err := sc.port.SetMode(serialMode); err != nil {
		return fmt.Errorf("failed to set serial mode: %w", err)
	}
	sc.logger.Info("Serial mode updated", zap.String("mode", mode.String()))
	return nil
}

// Close closes the serial connection. Notifications already queued on the
// loop are discarded.
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	if sc.closed {
		sc.mutex.Unlock()
		return nil
	}
	sc.closed = true
	sc.buffer = nil
	sc.mutex.Unlock()

	close(sc.done)
	if err := sc.port.Close(); err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed")
	return nil
}

// Stats returns a copy of the transport statistics
func (sc *SerialConnection) Stats() Stats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stats
}

func (sc *SerialConnection) readLoop() {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := sc.port.Read(chunk)
		if err != nil {
			if sc.isClosed() {
				return
			}
			sc.countError()
			sc.logger.Error("Serial read failed", zap.Error(err))
			sc.post(func() { sc.errored.Emit(fmt.Errorf("read from %s: %w", sc.name, err)) })
			return
		}
		if n == 0 {
			// read timeout
			continue
		}

		sc.mutex.Lock()
		if sc.closed {
			sc.mutex.Unlock()
			return
		}
		sc.buffer = append(sc.buffer, chunk[:n]...)
		sc.stats.BytesRead += int64(n)
		sc.stats.LastActivity = time.Now()
		sc.mutex.Unlock()

		select {
		case sc.ready <- struct{}{}:
		default:
		}
		sc.post(func() { sc.readyRead.Emit(struct{}{}) })
	}
}

// post forwards a notification to the loop unless the port closed meanwhile
func (sc *SerialConnection) post(fn func()) {
	sc.dispatcher.Post(func() {
		if sc.isClosed() {
			return
		}
		fn()
	})
}

func (sc *SerialConnection) buffered() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return len(sc.buffer)
}

func (sc *SerialConnection) isClosed() bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.closed
}

func (sc *SerialConnection) countError() {
	sc.mutex.Lock()
	sc.stats.ErrorCount++
	sc.mutex.Unlock()
}
