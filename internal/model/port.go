// internal/model/port.go
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PortDescriptor is an immutable snapshot of one serial port as seen by a scan.
type PortDescriptor struct {
	Name         string  `json:"name"`
	VendorID     *uint16 `json:"vendor_id,omitempty"`
	ProductID    *uint16 `json:"product_id,omitempty"`
	IsUSB        bool    `json:"is_usb"`
	SerialNumber string  `json:"serial_number,omitempty"`
	Product      string  `json:"product,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
}

// HasVendorID reports whether the port exposes a USB vendor identifier.
func (p PortDescriptor) HasVendorID() bool {
	return p.VendorID != nil
}

// HasProductID reports whether the port exposes a USB product identifier.
func (p PortDescriptor) HasProductID() bool {
	return p.ProductID != nil
}

// USBID returns "VVVV:PPPP" or an empty string for non-USB ports.
func (p PortDescriptor) USBID() string {
	if p.VendorID == nil || p.ProductID == nil {
		return ""
	}
	return fmt.Sprintf("%04X:%04X", *p.VendorID, *p.ProductID)
}

// PortFilter holds optional VID/PID equality constraints.
type PortFilter struct {
	VendorID  *uint16 `json:"vendor_id,omitempty"`
	ProductID *uint16 `json:"product_id,omitempty"`
}

// Matches reports whether p satisfies every constraint that is set.
// A port without a vendor (product) identifier never matches a vendor
// (product) constraint.
func (f PortFilter) Matches(p PortDescriptor) bool {
	if f.VendorID != nil {
		if p.VendorID == nil || *p.VendorID != *f.VendorID {
			return false
		}
	}
	if f.ProductID != nil {
		if p.ProductID == nil || *p.ProductID != *f.ProductID {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the filter accepts every port.
func (f PortFilter) IsEmpty() bool {
	return f.VendorID == nil && f.ProductID == nil
}

func (f PortFilter) String() string {
	vid, pid := "*", "*"
	if f.VendorID != nil {
		vid = FormatUSBID(*f.VendorID)
	}
	if f.ProductID != nil {
		pid = FormatUSBID(*f.ProductID)
	}
	return vid + ":" + pid
}

// ParseUSBID parses a 16 bit USB identifier written in hex, with or without
// a 0x prefix. An empty string yields nil.
func ParseUSBID(s string) (*uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid USB identifier %q: %w", s, err)
	}
	id := uint16(v)
	return &id, nil
}

// FormatUSBID renders an identifier as 0xVVVV.
func FormatUSBID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}

// USBID is a convenience for building descriptors and filters in code.
func USBID(id uint16) *uint16 {
	return &id
}
