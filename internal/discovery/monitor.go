// internal/discovery/monitor.go
package discovery

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"comlink-service/internal/eventloop"
	"comlink-service/internal/model"
	"comlink-service/internal/notify"
)

// DefaultPollInterval is used when NewPortMonitor gets a non-positive interval
const DefaultPollInterval = time.Second

// PortMonitor polls a PortLister and reports which port names appeared or
// disappeared since the previous scan. Enumeration runs on the monitor's own
// goroutine; the delta is computed and reported on the event loop.
type PortMonitor struct {
	lister     PortLister
	dispatcher eventloop.Dispatcher
	interval   time.Duration
	logger     *zap.Logger

	// loop-only
	known  map[string]model.PortDescriptor
	seeded bool

	added   notify.Signal[model.PortDescriptor]
	removed notify.Signal[model.PortDescriptor]
}

// NewPortMonitor creates a monitor that scans every interval once Run is called
func NewPortMonitor(lister PortLister, dispatcher eventloop.Dispatcher, interval time.Duration, logger *zap.Logger) *PortMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PortMonitor{
		lister:     lister,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With(zap.String("component", "port-monitor")),
		known:      make(map[string]model.PortDescriptor),
	}
}

// OnPortAdded registers fn for ports that appeared
func (m *PortMonitor) OnPortAdded(fn func(model.PortDescriptor)) (cancel func()) {
	return m.added.Connect(fn)
}

// OnPortRemoved registers fn for ports that disappeared; fn receives the
// last known descriptor
func (m *PortMonitor) OnPortRemoved(fn func(model.PortDescriptor)) (cancel func()) {
	return m.removed.Connect(fn)
}

// Interval returns the polling interval
func (m *PortMonitor) Interval() time.Duration {
	return m.interval
}

// Run seeds the known set without reporting, then scans on every tick until
// ctx is canceled
func (m *PortMonitor) Run(ctx context.Context) error {
	m.logger.Info("Port monitor started", zap.Duration("interval", m.interval))

	m.poll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Port monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll enumerates off the loop and hands the snapshot to the loop.
// A failed enumeration keeps the previous known set; the next tick retries.
func (m *PortMonitor) poll() {
	ports, err := m.lister.ListPorts()
	if err != nil {
		m.logger.Warn("Port enumeration failed, keeping previous snapshot", zap.Error(err))
		return
	}
	m.dispatcher.Post(func() { m.apply(ports) })
}

// apply replaces the known set with the snapshot and emits one notification
// per changed name. Removals are emitted before additions.
func (m *PortMonitor) apply(ports []model.PortDescriptor) {
	current := make(map[string]model.PortDescriptor, len(ports))
	for _, p := range ports {
		current[p.Name] = p
	}

	if !m.seeded {
		m.known = current
		m.seeded = true
		m.logger.Debug("Port snapshot seeded", zap.Int("ports", len(current)))
		return
	}

	var added, removed []model.PortDescriptor
	for name, desc := range current {
		if _, ok := m.known[name]; !ok {
			added = append(added, desc)
		}
	}
	for name, desc := range m.known {
		if _, ok := current[name]; !ok {
			removed = append(removed, desc)
		}
	}
	m.known = current

	sortByName(added)
	sortByName(removed)

	for _, desc := range removed {
		m.logger.Info("Serial port removed", zap.String("port", desc.Name))
		m.removed.Emit(desc)
	}
	for _, desc := range added {
		m.logger.Info("Serial port added",
			zap.String("port", desc.Name),
			zap.String("usb_id", desc.USBID()),
		)
		m.added.Emit(desc)
	}
}

func sortByName(ports []model.PortDescriptor) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
