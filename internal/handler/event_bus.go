// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"comlink-service/internal/model"
)

// EventBus manages link event distribution
type EventBus struct {
	subscribers map[int]*subscription
	nextID      int
	events      chan model.LinkEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type subscription struct {
	types map[model.EventType]bool
	ch    chan model.LinkEvent
}

func (s *subscription) wants(t model.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int, logger *zap.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{
		subscribers: make(map[int]*subscription),
		events:      make(chan model.LinkEvent, bufferSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Run distributes published events until ctx is canceled
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish publishes an event without blocking
func (eb *EventBus) Publish(event model.LinkEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Subscribe subscribes to the given event types, or to all types when none
// are given. cancel removes the subscription and closes the channel.
func (eb *EventBus) Subscribe(types ...model.EventType) (events <-chan model.LinkEvent, cancel func()) {
	sub := &subscription{
		types: make(map[model.EventType]bool, len(types)),
		ch:    make(chan model.LinkEvent, 100),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	eb.mutex.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subscribers[id] = sub
	eb.mutex.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			eb.mutex.Lock()
			delete(eb.subscribers, id)
			eb.mutex.Unlock()
			close(sub.ch)
		})
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.LinkEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, sub := range eb.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
