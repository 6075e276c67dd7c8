// internal/service/state.go
package service

import (
	"fmt"
	"time"

	"comlink-service/internal/model"
	"comlink-service/internal/protocol"
)

// State is the connection manager's lifecycle state
type State int

const (
	StateDisconnected State = iota
	StateIdentifying
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdentifying:
		return "identifying"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and logs
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of the manager
type Status struct {
	State       State            `json:"state"`
	Port        string           `json:"port,omitempty"`
	USBID       string           `json:"usb_id,omitempty"`
	Filter      model.PortFilter `json:"filter"`
	AutoConnect bool             `json:"auto_connect"`
	Candidates  int              `json:"candidates"`
	Mode        protocol.Mode    `json:"mode"`
	ConnectedAt *time.Time       `json:"connected_at,omitempty"`
	Transport   *protocol.Stats  `json:"transport,omitempty"`
}
