// internal/service/link_service.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"comlink-service/internal/discovery"
	"comlink-service/internal/eventloop"
	"comlink-service/internal/model"
	"comlink-service/internal/protocol"
	"comlink-service/internal/utils"
)

// LinkService exposes the connection manager to HTTP handlers and the CLI.
// Every call is executed on the event loop and waits for its result.
type LinkService struct {
	loop    *eventloop.Loop
	manager *ConnectionManager
	lister  discovery.PortLister
	logger  *utils.ServiceLogger
}

// NewLinkService creates a new link service instance
func NewLinkService(loop *eventloop.Loop, manager *ConnectionManager, lister discovery.PortLister, logger *zap.Logger) *LinkService {
	return &LinkService{
		loop:    loop,
		manager: manager,
		lister:  lister,
		logger:  utils.NewServiceLogger(logger, "link-service"),
	}
}

// Manager returns the wrapped manager for signal registration
func (s *LinkService) Manager() *ConnectionManager {
	return s.manager
}

// AutoConnect starts an auto-connect cycle with the given filter
func (s *LinkService) AutoConnect(ctx context.Context, filter model.PortFilter) error {
	var result error
	if err := s.loop.Do(ctx, func() { result = s.manager.AutoConnect(filter) }); err != nil {
		return fmt.Errorf("auto-connect: %w", err)
	}
	if result != nil {
		return result
	}

	s.logger.Info("Auto-connect requested", zap.Stringer("filter", filter))
	return nil
}

// Disconnect drops the current attempt or connection
func (s *LinkService) Disconnect(ctx context.Context) error {
	if err := s.loop.Do(ctx, s.manager.Disconnect); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.logger.Info("Disconnect requested")
	return nil
}

// Send writes data to the connected device and reports whether it was sent
func (s *LinkService) Send(ctx context.Context, data []byte) (bool, error) {
	var (
		sent   bool
		result error
	)
	err := s.loop.Do(ctx, func() {
		sent = s.manager.State() == StateConnected && len(data) > 0
		result = s.manager.Send(data)
	})
	if err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	if result != nil {
		return false, result
	}
	return sent, nil
}

// Configure replaces the serial line settings
func (s *LinkService) Configure(ctx context.Context, mode protocol.Mode) error {
	var result error
	if err := s.loop.Do(ctx, func() { result = s.manager.Configure(mode) }); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return result
}

// Status returns a snapshot of the manager
func (s *LinkService) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := s.loop.Do(ctx, func() { status = s.manager.Status() }); err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return status, nil
}

// IsConnected reports whether a device is identified
func (s *LinkService) IsConnected() bool {
	return s.manager.IsConnected()
}

// ListPorts enumerates the ports currently present. It runs off the loop.
func (s *LinkService) ListPorts(ctx context.Context) ([]model.PortDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ports, err := s.lister.ListPorts()
	if err != nil {
		return nil, enumerationError(err)
	}
	return ports, nil
}

// Close shuts the manager down
func (s *LinkService) Close(ctx context.Context) error {
	if err := s.loop.Do(ctx, s.manager.Close); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
