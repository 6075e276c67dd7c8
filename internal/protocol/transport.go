// internal/protocol/transport.go
package protocol

import (
	"errors"
	"time"

	"comlink-service/internal/model"
)

var ErrPortClosed = errors.New("serial port is closed")

// Transport is an open serial connection. Notifications registered with
// OnReadyRead and OnError are delivered on the event loop.
type Transport interface {
	PortName() string

	Write(data []byte) error
	// ReadAvailable drains and returns everything buffered so far.
	ReadAvailable() []byte
	// WaitForReadyRead blocks until data is buffered or timeout elapses.
	WaitForReadyRead(timeout time.Duration) bool

	OnReadyRead(fn func()) (cancel func())
	OnError(fn func(error)) (cancel func())

	SetMode(mode Mode) error
	Close() error
}

// Opener opens transports for discovered ports.
type Opener interface {
	Open(port model.PortDescriptor, mode Mode) (Transport, error)
}

// Stats provides transport-level statistics
type Stats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	ErrorCount   int64     `json:"error_count"`
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity"`
}

// StatsReporter is implemented by transports that keep Stats.
type StatsReporter interface {
	Stats() Stats
}
