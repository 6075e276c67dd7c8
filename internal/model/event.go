// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of link event
type EventType string

const (
	EventLinkConnected    EventType = "LINK_CONNECTED"
	EventLinkDisconnected EventType = "LINK_DISCONNECTED"
	EventLinkError        EventType = "LINK_ERROR"
	EventDataReceived     EventType = "DATA_RECEIVED"
	EventPortAdded        EventType = "PORT_ADDED"
	EventPortRemoved      EventType = "PORT_REMOVED"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventLinkConnected, EventLinkDisconnected, EventLinkError,
		EventDataReceived, EventPortAdded, EventPortRemoved:
		return true
	}
	return false
}

// LinkEvent is a caller-visible event produced by the connection manager
// or the port monitor.
type LinkEvent struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Type      EventType  `json:"type" db:"event_type"`
	Port      string     `json:"port,omitempty" db:"port"`
	Message   string     `json:"message,omitempty" db:"message"`
	Data      JSONObject `json:"data,omitempty" db:"data"`
	Timestamp time.Time  `json:"timestamp" db:"created_at"`
}

// NewLinkEvent stamps a new event with an ID and the current time.
func NewLinkEvent(eventType EventType, port, message string) *LinkEvent {
	return &LinkEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Port:      port,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithData attaches payload fields and returns the event.
func (e *LinkEvent) WithData(data JSONObject) *LinkEvent {
	e.Data = data
	return e
}

// EventFilter narrows event history queries.
type EventFilter struct {
	Type  *EventType `json:"type,omitempty"`
	Port  string     `json:"port,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Limit int        `json:"limit,omitempty"`
}
