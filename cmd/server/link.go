// cmd/server/link.go
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"comlink-service/internal/config"
	"comlink-service/internal/discovery"
	"comlink-service/internal/discovery/usb"
	"comlink-service/internal/eventloop"
	"comlink-service/internal/identify"
	"comlink-service/internal/protocol"
	"comlink-service/internal/service"
)

// linkStack is the event loop with everything that runs on it
type linkStack struct {
	loop    *eventloop.Loop
	lister  discovery.PortLister
	monitor *discovery.PortMonitor
	manager *service.ConnectionManager
	link    *service.LinkService
	mode    protocol.Mode
}

// buildLister chains the OS enumerator with the optional USB enrichment
// and match expression
func buildLister(cfg *config.Config, logger *zap.Logger) (discovery.PortLister, error) {
	var lister discovery.PortLister = discovery.NewEnumeratorLister(logger)

	lister = usb.NewEnricher(lister, cfg.Monitor.USBEnrich, logger)

	if cfg.Monitor.Match != "" {
		matched, err := discovery.NewMatchLister(lister, cfg.Monitor.Match, logger)
		if err != nil {
			return nil, err
		}
		lister = matched
	}
	return lister, nil
}

func newLinkStack(cfg *config.Config, logger *zap.Logger) (*linkStack, error) {
	mode, err := cfg.Serial.Mode()
	if err != nil {
		return nil, fmt.Errorf("invalid serial mode: %w", err)
	}

	lister, err := buildLister(cfg, logger)
	if err != nil {
		return nil, err
	}

	loop := eventloop.New(logger, cfg.Events.BufferSize)

	identifiers, err := identify.NewRegistry(logger).Factory(cfg.Identifier.Strategy, cfg.Identifier.Handshake(), loop)
	if err != nil {
		return nil, err
	}

	monitor := discovery.NewPortMonitor(lister, loop, cfg.Monitor.Interval, logger)
	opener := protocol.NewSerialOpener(loop, logger)
	manager := service.NewConnectionManager(opener, lister, monitor, identifiers, logger)

	return &linkStack{
		loop:    loop,
		lister:  lister,
		monitor: monitor,
		manager: manager,
		link:    service.NewLinkService(loop, manager, lister, logger),
		mode:    mode,
	}, nil
}

// start runs the loop and the port monitor until ctx is canceled and
// applies the configured serial mode
func (s *linkStack) start(ctx context.Context, logger *zap.Logger) error {
	go func() {
		if err := s.loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Event loop stopped", zap.Error(err))
		}
	}()
	go s.monitor.Run(ctx)

	return s.link.Configure(ctx, s.mode)
}

// autoConnect starts the cycle configured under autoconnect
func (s *linkStack) autoConnect(ctx context.Context, cfg *config.Config) error {
	filter, err := cfg.AutoConnect.Filter()
	if err != nil {
		return err
	}
	return s.link.AutoConnect(ctx, filter)
}
