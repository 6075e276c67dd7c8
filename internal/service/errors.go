// internal/service/errors.go
package service

import (
	"errors"
	"fmt"

	"comlink-service/internal/discovery"
)

var (
	// ErrPortEnumeration is returned when the candidate snapshot cannot be taken
	ErrPortEnumeration = discovery.ErrEnumeration
	// ErrPortOpen tags failed open attempts reported on the error channel
	ErrPortOpen = errors.New("failed to open port")
	// ErrTransportIO tags I/O failures of an open transport
	ErrTransportIO = errors.New("transport i/o error")
	// ErrIdentification tags every error event caused by a failed handshake
	ErrIdentification = errors.New("identification failed")
	// ErrNotDisconnected is returned by AutoConnect outside the Disconnected state
	ErrNotDisconnected = errors.New("auto-connect requires a disconnected link")
	// ErrManagerClosed is returned once Close has been called
	ErrManagerClosed = errors.New("connection manager closed")
)

func enumerationError(err error) error {
	if errors.Is(err, ErrPortEnumeration) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPortEnumeration, err)
}
