package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comlink-service/internal/model"
)

func TestParsePortFilter(t *testing.T) {
	filter, err := parsePortFilter("0x2341", "")
	require.NoError(t, err)
	require.NotNil(t, filter.VendorID)
	assert.Equal(t, uint16(0x2341), *filter.VendorID)
	assert.Nil(t, filter.ProductID)

	_, err = parsePortFilter("", "nothex")
	assert.Error(t, err)
}

func TestRenderPorts(t *testing.T) {
	var buf bytes.Buffer
	renderPorts(&buf, nil)
	assert.Equal(t, "No serial ports found\n", buf.String())

	buf.Reset()
	renderPorts(&buf, []model.PortDescriptor{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VendorID: model.USBID(0x2341), ProductID: model.USBID(0x0043), Product: "Uno"},
	})
	out := buf.String()
	assert.Contains(t, out, "Found 2 serial port(s)")
	assert.Contains(t, out, "/dev/ttyACM0")
	assert.Contains(t, out, "2341:0043")
	assert.Contains(t, out, "Uno")
}
