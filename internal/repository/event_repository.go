// internal/repository/event_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"comlink-service/internal/database"
	"comlink-service/internal/model"
	"comlink-service/internal/utils"
)

// eventRepository implements EventRepository on postgres
type eventRepository struct {
	db     *database.DB
	logger *utils.ServiceLogger
}

// NewEventRepository creates a postgres backed event repository
func NewEventRepository(db *database.DB, logger *zap.Logger) EventRepository {
	return &eventRepository{
		db:     db,
		logger: utils.NewServiceLogger(logger, "event-repository"),
	}
}

// Save inserts an event
func (r *eventRepository) Save(ctx context.Context, event *model.LinkEvent) error {
	query := `
		INSERT INTO link_events (id, event_type, port, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Type, event.Port, event.Message, event.Data, event.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to save link event", zap.Error(err), zap.String("event_type", string(event.Type)))
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

// GetByID retrieves an event by its UUID
func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.LinkEvent, error) {
	query := `
		SELECT id, event_type, port, message, data, created_at
		FROM link_events WHERE id = $1
	`

	event := &model.LinkEvent{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID, &event.Type, &event.Port, &event.Message, &event.Data, &event.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrEventNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// List retrieves events with filtering, newest first
func (r *eventRepository) List(ctx context.Context, filter model.EventFilter) ([]*model.LinkEvent, error) {
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Type != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("event_type = $%d", argIndex))
		args = append(args, *filter.Type)
		argIndex++
	}

	if filter.Port != "" {
		whereConditions = append(whereConditions, fmt.Sprintf("port = $%d", argIndex))
		args = append(args, filter.Port)
		argIndex++
	}

	if filter.Since != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, port, message, data, created_at
		FROM link_events %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, whereClause, argIndex)
	args = append(args, limitOrDefault(filter.Limit))

	startTime := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logger.LogDatabaseQuery(query, args, time.Since(startTime), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*model.LinkEvent{}
	for rows.Next() {
		event := &model.LinkEvent{}
		if err := rows.Scan(&event.ID, &event.Type, &event.Port, &event.Message, &event.Data, &event.Timestamp); err != nil {
			r.logger.Error("Failed to scan link event row", zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}

	return events, nil
}

// CountByType counts events per type since the given time
func (r *eventRepository) CountByType(ctx context.Context, since time.Time) (map[model.EventType]int, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM link_events
		WHERE created_at >= $1
		GROUP BY event_type
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.EventType]int)
	for rows.Next() {
		var eventType model.EventType
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = count
	}

	return counts, rows.Err()
}

// DeleteOlderThan removes events created before cutoff
func (r *eventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM link_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("Old link events deleted", zap.Int64("count", deleted))
	}
	return deleted, nil
}
