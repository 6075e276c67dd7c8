// internal/discovery/match.go
package discovery

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

// portEnv is the environment a match expression is evaluated against
type portEnv struct {
	Name         string `expr:"name"`
	USB          bool   `expr:"usb"`
	VID          int    `expr:"vid"`
	PID          int    `expr:"pid"`
	USBID        string `expr:"usb_id"`
	SerialNumber string `expr:"serial"`
	Product      string `expr:"product"`
	Manufacturer string `expr:"manufacturer"`
}

func newPortEnv(p model.PortDescriptor) portEnv {
	env := portEnv{
		Name:         p.Name,
		USB:          p.IsUSB,
		VID:          -1,
		PID:          -1,
		USBID:        p.USBID(),
		SerialNumber: p.SerialNumber,
		Product:      p.Product,
		Manufacturer: p.Manufacturer,
	}
	if p.VendorID != nil {
		env.VID = int(*p.VendorID)
	}
	if p.ProductID != nil {
		env.PID = int(*p.ProductID)
	}
	return env
}

// MatchLister hides ports for which a boolean expression is false, e.g.
//
//	usb && vid == 0x2341 && product contains "Uno"
//	name matches "^/dev/ttyACM"
//
// A port missing an identifier sees -1 for vid or pid.
type MatchLister struct {
	next       PortLister
	expression string
	program    *vm.Program
	logger     *zap.Logger
}

// NewMatchLister compiles expression and wraps next
func NewMatchLister(next PortLister, expression string, logger *zap.Logger) (*MatchLister, error) {
	program, err := expr.Compile(expression, expr.Env(portEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid port match expression: %w", err)
	}
	return &MatchLister{
		next:       next,
		expression: expression,
		program:    program,
		logger:     logger.With(zap.String("lister", "match")),
	}, nil
}

// ListPorts returns the wrapped lister's ports that satisfy the expression
func (l *MatchLister) ListPorts() ([]model.PortDescriptor, error) {
	ports, err := l.next.ListPorts()
	if err != nil {
		return nil, err
	}

	matched := make([]model.PortDescriptor, 0, len(ports))
	for _, p := range ports {
		ok, err := l.Match(p)
		if err != nil {
			l.logger.Warn("Port match expression failed",
				zap.String("port", p.Name),
				zap.String("expression", l.expression),
				zap.Error(err),
			)
			continue
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// Match evaluates the expression for one port
func (l *MatchLister) Match(p model.PortDescriptor) (bool, error) {
	out, err := expr.Run(l.program, newPortEnv(p))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
