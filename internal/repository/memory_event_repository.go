// internal/repository/memory_event_repository.go
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"comlink-service/internal/model"
)

// DefaultHistorySize bounds the in-memory history when no size is given
const DefaultHistorySize = 500

// memoryEventRepository keeps the most recent events in a ring buffer.
// It backs the event history when no database is configured.
type memoryEventRepository struct {
	mu     sync.RWMutex
	events []*model.LinkEvent
	next   int
	full   bool
}

// NewMemoryEventRepository creates a bounded in-memory event repository
func NewMemoryEventRepository(size int) EventRepository {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &memoryEventRepository{
		events: make([]*model.LinkEvent, size),
	}
}

func (r *memoryEventRepository) Save(_ context.Context, event *model.LinkEvent) error {
	stored := *event

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = &stored
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *memoryEventRepository) GetByID(_ context.Context, id uuid.UUID) (*model.LinkEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, event := range r.newestFirst() {
		if event.ID == id {
			found := *event
			return &found, nil
		}
	}
	return nil, &ErrEventNotFound{ID: id}
}

func (r *memoryEventRepository) List(_ context.Context, filter model.EventFilter) ([]*model.LinkEvent, error) {
	limit := limitOrDefault(filter.Limit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	events := []*model.LinkEvent{}
	for _, event := range r.newestFirst() {
		if len(events) == limit {
			break
		}
		if !matches(event, filter) {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	return events, nil
}

func (r *memoryEventRepository) CountByType(_ context.Context, since time.Time) (map[model.EventType]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.EventType]int)
	for _, event := range r.newestFirst() {
		if !event.Timestamp.Before(since) {
			counts[event.Type]++
		}
	}
	return counts, nil
}

func (r *memoryEventRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*model.LinkEvent, 0, len(r.events))
	ordered := r.newestFirst()
	for i := len(ordered) - 1; i >= 0; i-- {
		if !ordered[i].Timestamp.Before(cutoff) {
			kept = append(kept, ordered[i])
		}
	}
	deleted := int64(len(ordered) - len(kept))

	size := len(r.events)
	r.events = make([]*model.LinkEvent, size)
	copy(r.events, kept)
	r.next = len(kept) % size
	r.full = len(kept) == size
	return deleted, nil
}

// newestFirst returns stored events from newest to oldest. Callers hold the lock.
func (r *memoryEventRepository) newestFirst() []*model.LinkEvent {
	count := r.next
	if r.full {
		count = len(r.events)
	}

	ordered := make([]*model.LinkEvent, 0, count)
	for i := 1; i <= count; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		ordered = append(ordered, r.events[idx])
	}
	return ordered
}

func matches(event *model.LinkEvent, filter model.EventFilter) bool {
	if filter.Type != nil && event.Type != *filter.Type {
		return false
	}
	if filter.Port != "" && event.Port != filter.Port {
		return false
	}
	if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
		return false
	}
	return true
}
