// internal/discovery/usb/enricher.go
package usb

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"comlink-service/internal/discovery"
	"comlink-service/internal/model"
)

var errDeviceNotFound = errors.New("usb device not found")

// descriptorStrings are the manufacturer and product strings of a device
type descriptorStrings struct {
	manufacturer string
	product      string
}

// Enricher wraps a PortLister and fills in manufacturer and product names
// for USB ports, from the catalog and, when enabled, from the device's own
// string descriptors read through libusb.
type Enricher struct {
	next            discovery.PortLister
	catalog         *Catalog
	logger          *zap.Logger
	readDescriptors bool

	mu    sync.Mutex
	cache map[[2]gousb.ID]descriptorStrings
	read  func(vendor, product gousb.ID) (descriptorStrings, error)
}

// NewEnricher creates an enriching lister around next
func NewEnricher(next discovery.PortLister, readDescriptors bool, logger *zap.Logger) *Enricher {
	e := &Enricher{
		next:            next,
		catalog:         NewCatalog(),
		logger:          logger.With(zap.String("lister", "usb-enricher")),
		readDescriptors: readDescriptors,
		cache:           make(map[[2]gousb.ID]descriptorStrings),
	}
	e.read = e.readFromDevice
	return e
}

// ListPorts lists ports through the wrapped lister and enriches USB entries
func (e *Enricher) ListPorts() ([]model.PortDescriptor, error) {
	ports, err := e.next.ListPorts()
	if err != nil {
		return nil, err
	}

	for i := range ports {
		if ports[i].VendorID == nil || ports[i].ProductID == nil {
			continue
		}
		e.enrich(&ports[i])
	}
	return ports, nil
}

func (e *Enricher) enrich(port *model.PortDescriptor) {
	vendor, product := gousb.ID(*port.VendorID), gousb.ID(*port.ProductID)

	if vendorName, productName, ok := e.catalog.Lookup(vendor, product); ok {
		if port.Manufacturer == "" {
			port.Manufacturer = vendorName
		}
		if port.Product == "" && productName != "" {
			port.Product = productName
		}
	}

	if !e.readDescriptors || (port.Manufacturer != "" && port.Product != "") {
		return
	}

	strs := e.lookup(vendor, product)
	if port.Manufacturer == "" {
		port.Manufacturer = strs.manufacturer
	}
	if port.Product == "" {
		port.Product = strs.product
	}
}

// lookup caches descriptor strings per VID:PID. Failed reads are retried
// on the next listing.
func (e *Enricher) lookup(vendor, product gousb.ID) descriptorStrings {
	key := [2]gousb.ID{vendor, product}

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return cached
	}

	strs, err := e.read(vendor, product)
	if err != nil {
		e.logger.Debug("USB descriptor lookup failed",
			zap.String("vendor_id", fmt.Sprintf("0x%04X", uint16(vendor))),
			zap.String("product_id", fmt.Sprintf("0x%04X", uint16(product))),
			zap.Error(err),
		)
		return strs
	}

	e.mu.Lock()
	e.cache[key] = strs
	e.mu.Unlock()
	return strs
}

func (e *Enricher) readFromDevice(vendor, product gousb.ID) (descriptorStrings, error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			e.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	device, err := usbCtx.OpenDeviceWithVIDPID(vendor, product)
	if err != nil {
		return descriptorStrings{}, fmt.Errorf("open usb device: %w", err)
	}
	if device == nil {
		return descriptorStrings{}, errDeviceNotFound
	}
	defer device.Close()

	var strs descriptorStrings
	if m, err := device.Manufacturer(); err == nil {
		strs.manufacturer = strings.TrimSpace(m)
	}
	if p, err := device.Product(); err == nil {
		strs.product = strings.TrimSpace(p)
	}
	return strs, nil
}
