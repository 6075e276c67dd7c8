// internal/protocol/mode.go
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

var (
	ErrInvalidMode            = errors.New("invalid serial mode")
	ErrUnsupportedFlowControl = errors.New("flow control not supported by serial transport")
)

// Parity represents the parity setting of a serial line
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// StopBits represents the number of stop bits
type StopBits string

const (
	StopBitsOne          StopBits = "1"
	StopBitsOnePointFive StopBits = "1.5"
	StopBitsTwo          StopBits = "2"
)

// FlowControl represents the flow control setting
type FlowControl string

const (
	FlowControlNone     FlowControl = "none"
	FlowControlHardware FlowControl = "hardware"
	FlowControlSoftware FlowControl = "software"
)

// Mode is the line configuration applied before every open attempt.
type Mode struct {
	BaudRate    int         `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits    int         `json:"data_bits" mapstructure:"data_bits"`
	Parity      Parity      `json:"parity" mapstructure:"parity"`
	StopBits    StopBits    `json:"stop_bits" mapstructure:"stop_bits"`
	FlowControl FlowControl `json:"flow_control" mapstructure:"flow_control"`
}

// DefaultMode returns 115200 baud, 8 data bits, no parity, one stop bit,
// no flow control.
func DefaultMode() Mode {
	return Mode{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      ParityNone,
		StopBits:    StopBitsOne,
		FlowControl: FlowControlNone,
	}
}

// Validate checks every field against the supported option set.
func (m Mode) Validate() error {
	if m.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidMode, m.BaudRate)
	}
	if m.DataBits < 5 || m.DataBits > 8 {
		return fmt.Errorf("%w: data bits must be 5-8, got %d", ErrInvalidMode, m.DataBits)
	}
	if _, err := ParseParity(string(m.Parity)); err != nil {
		return err
	}
	if _, err := ParseStopBits(string(m.StopBits)); err != nil {
		return err
	}
	if _, err := ParseFlowControl(string(m.FlowControl)); err != nil {
		return err
	}
	return nil
}

func (m Mode) String() string {
	parity := "N"
	if m.Parity != "" {
		parity = strings.ToUpper(string(m.Parity)[:1])
	}
	return fmt.Sprintf("%d %d%s%s flow=%s", m.BaudRate, m.DataBits, parity, m.StopBits, m.FlowControl)
}

// ParseParity accepts none, odd, even, mark or space, case-insensitively.
func ParseParity(s string) (Parity, error) {
	switch p := Parity(strings.ToLower(strings.TrimSpace(s))); p {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
		return p, nil
	case "":
		return ParityNone, nil
	default:
		return "", fmt.Errorf("%w: unknown parity %q", ErrInvalidMode, s)
	}
}

// ParseStopBits accepts 1, 1.5 or 2.
func ParseStopBits(s string) (StopBits, error) {
	switch sb := StopBits(strings.TrimSpace(s)); sb {
	case StopBitsOne, StopBitsOnePointFive, StopBitsTwo:
		return sb, nil
	case "":
		return StopBitsOne, nil
	default:
		return "", fmt.Errorf("%w: unknown stop bits %q", ErrInvalidMode, s)
	}
}

// ParseFlowControl accepts none, hardware (rts/cts) or software (xon/xoff).
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return FlowControlNone, nil
	case "hardware", "rtscts", "rts/cts":
		return FlowControlHardware, nil
	case "software", "xonxoff", "xon/xoff":
		return FlowControlSoftware, nil
	default:
		return "", fmt.Errorf("%w: unknown flow control %q", ErrInvalidMode, s)
	}
}

// serialMode converts to the go.bug.st representation.
func (m Mode) serialMode() (*serial.Mode, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.FlowControl != FlowControlNone && m.FlowControl != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlowControl, m.FlowControl)
	}

	mode := &serial.Mode{
		BaudRate: m.BaudRate,
		DataBits: m.DataBits,
	}

	switch m.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	switch m.StopBits {
	case StopBitsOnePointFive:
		mode.StopBits = serial.OnePointFiveStopBits
	case StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	return mode, nil
}
