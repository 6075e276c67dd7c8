// internal/discovery/lister.go
package discovery

import (
	"errors"
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

// ErrEnumeration wraps OS-level port listing failures
var ErrEnumeration = errors.New("port enumeration failed")

// PortLister enumerates the serial ports currently present - Strategy Pattern
type PortLister interface {
	ListPorts() ([]model.PortDescriptor, error)
}

// PortListerFunc adapts a function to PortLister
type PortListerFunc func() ([]model.PortDescriptor, error)

func (f PortListerFunc) ListPorts() ([]model.PortDescriptor, error) {
	return f()
}

// EnumeratorLister lists ports through go.bug.st/serial/enumerator
type EnumeratorLister struct {
	logger *zap.Logger
	list   func() ([]*enumerator.PortDetails, error)
}

// NewEnumeratorLister creates the default lister
func NewEnumeratorLister(logger *zap.Logger) *EnumeratorLister {
	return &EnumeratorLister{
		logger: logger.With(zap.String("lister", "enumerator")),
		list:   enumerator.GetDetailedPortsList,
	}
}

// ListPorts returns one descriptor per port name, sorted by name
func (l *EnumeratorLister) ListPorts() ([]model.PortDescriptor, error) {
	details, err := l.list()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	seen := make(map[string]struct{}, len(details))
	ports := make([]model.PortDescriptor, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		if _, dup := seen[d.Name]; dup {
			continue
		}
		seen[d.Name] = struct{}{}
		ports = append(ports, l.describe(d))
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

func (l *EnumeratorLister) describe(d *enumerator.PortDetails) model.PortDescriptor {
	desc := model.PortDescriptor{
		Name:         d.Name,
		IsUSB:        d.IsUSB,
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
	}
	if !d.IsUSB {
		return desc
	}

	vid, err := model.ParseUSBID(d.VID)
	if err != nil {
		l.logger.Debug("Ignoring malformed vendor id", zap.String("port", d.Name), zap.String("vid", d.VID))
	} else {
		desc.VendorID = vid
	}

	pid, err := model.ParseUSBID(d.PID)
	if err != nil {
		l.logger.Debug("Ignoring malformed product id", zap.String("port", d.Name), zap.String("pid", d.PID))
	} else {
		desc.ProductID = pid
	}

	return desc
}
