// internal/discovery/usb/catalog.go - USB serial bridge catalog
package usb

import "github.com/google/gousb"

// Catalog contains known USB serial bridges and boards
type Catalog struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]string
}

// NewCatalog creates and initializes the catalog
func NewCatalog() *Catalog {
	c := &Catalog{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	c.initialize()
	return c
}

func (c *Catalog) initialize() {
	c.add(0x0403, "Future Technology Devices International", map[gousb.ID]string{
		0x6001: "FT232R UART",
		0x6010: "FT2232 Dual UART",
		0x6011: "FT4232 Quad UART",
		0x6014: "FT232H UART",
		0x6015: "FT-X Series UART",
	})
	c.add(0x10C4, "Silicon Labs", map[gousb.ID]string{
		0xEA60: "CP210x UART Bridge",
		0xEA70: "CP2105 Dual UART Bridge",
		0xEA71: "CP2108 Quad UART Bridge",
	})
	c.add(0x1A86, "WCH", map[gousb.ID]string{
		0x7523: "CH340 Serial",
		0x55D4: "CH9102 Serial",
	})
	c.add(0x067B, "Prolific Technology", map[gousb.ID]string{
		0x2303: "PL2303 Serial Port",
		0x23A3: "PL2303GC Serial Port",
	})
	c.add(0x2341, "Arduino", map[gousb.ID]string{
		0x0043: "Uno R3",
		0x0010: "Mega 2560",
		0x8036: "Leonardo",
		0x0058: "Nano Every",
	})
	c.add(0x2E8A, "Raspberry Pi", map[gousb.ID]string{
		0x0005: "Pico (MicroPython)",
		0x000A: "Pico (SDK CDC)",
	})
	c.add(0x303A, "Espressif", map[gousb.ID]string{
		0x1001: "USB JTAG/Serial",
	})
	c.add(0x0483, "STMicroelectronics", map[gousb.ID]string{
		0x5740: "Virtual COM Port",
	})
}

func (c *Catalog) add(vendor gousb.ID, name string, products map[gousb.ID]string) {
	c.vendors[vendor] = &VendorInfo{Name: name, products: products}
}

// IsKnownVendor checks if vendor is in the catalog
func (c *Catalog) IsKnownVendor(vendor gousb.ID) bool {
	_, exists := c.vendors[vendor]
	return exists
}

// Lookup returns the vendor name and, if known, the product name
func (c *Catalog) Lookup(vendor, product gousb.ID) (vendorName, productName string, ok bool) {
	info, exists := c.vendors[vendor]
	if !exists {
		return "", "", false
	}
	return info.Name, info.products[product], true
}
