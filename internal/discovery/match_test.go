package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

func TestMatchLister(t *testing.T) {
	uno := model.PortDescriptor{
		Name: "/dev/ttyACM0", IsUSB: true, Product: "Arduino Uno",
		VendorID: model.USBID(0x2341), ProductID: model.USBID(0x0043),
	}
	ftdi := model.PortDescriptor{
		Name: "/dev/ttyUSB0", IsUSB: true,
		VendorID: model.USBID(0x0403), ProductID: model.USBID(0x6001),
	}
	builtin := model.PortDescriptor{Name: "/dev/ttyS0"}
	lister := PortListerFunc(func() ([]model.PortDescriptor, error) {
		return []model.PortDescriptor{uno, ftdi, builtin}, nil
	})

	tests := []struct {
		expression string
		want       []string
	}{
		{`usb && vid == 0x2341`, []string{"/dev/ttyACM0"}},
		{`product contains "Uno"`, []string{"/dev/ttyACM0"}},
		{`name matches "^/dev/ttyUSB"`, []string{"/dev/ttyUSB0"}},
		{`vid == -1`, []string{"/dev/ttyS0"}},
		{`usb_id in ["0403:6001", "2341:0043"]`, []string{"/dev/ttyACM0", "/dev/ttyUSB0"}},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			m, err := NewMatchLister(lister, tt.expression, zap.NewNop())
			require.NoError(t, err)

			ports, err := m.ListPorts()
			require.NoError(t, err)

			var names []string
			for _, p := range ports {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestMatchLister_LeavesWrappedSliceIntact(t *testing.T) {
	shared := []model.PortDescriptor{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VendorID: model.USBID(0x2341), ProductID: model.USBID(0x0043)},
	}
	lister := PortListerFunc(func() ([]model.PortDescriptor, error) { return shared, nil })

	m, err := NewMatchLister(lister, `usb`, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ports, err := m.ListPorts()
		require.NoError(t, err)
		require.Len(t, ports, 1)
		assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
	}
	assert.Equal(t, "/dev/ttyS0", shared[0].Name)
	assert.Equal(t, "/dev/ttyACM0", shared[1].Name)
}

func TestMatchLister_RejectsBadExpressions(t *testing.T) {
	lister := PortListerFunc(func() ([]model.PortDescriptor, error) { return nil, nil })

	_, err := NewMatchLister(lister, `vid +`, zap.NewNop())
	assert.Error(t, err)

	_, err = NewMatchLister(lister, `name`, zap.NewNop())
	assert.Error(t, err, "non-boolean expressions are rejected")

	_, err = NewMatchLister(lister, `color == "red"`, zap.NewNop())
	assert.Error(t, err, "unknown fields are rejected")
}
