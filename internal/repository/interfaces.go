// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"comlink-service/internal/model"
)

// DefaultListLimit caps history queries without an explicit limit
const DefaultListLimit = 100

// EventRepository defines link event history access
type EventRepository interface {
	Save(ctx context.Context, event *model.LinkEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.LinkEvent, error)
	// List returns matching events, newest first
	List(ctx context.Context, filter model.EventFilter) ([]*model.LinkEvent, error)
	CountByType(ctx context.Context, since time.Time) (map[model.EventType]int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ErrEventNotFound is returned when no event has the requested ID
type ErrEventNotFound struct {
	ID uuid.UUID
}

func (e *ErrEventNotFound) Error() string {
	return "event not found with id: " + e.ID.String()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
