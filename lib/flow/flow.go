// Package flow drives MKS 946-class mass flow controllers. Frames look like
// "@253FR1?;FF" and replies like "@253ACK1.00E+01;FF".
package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/mmwave"
	"github.com/pkg/errors"
)

// DefaultAddress is the factory device address.
const DefaultAddress = 253

// NAKError is a negative acknowledgement with the controller's error code.
type NAKError struct {
	Code int
	Cmd  string
}

var nakDesc = map[int]string{
	160: "unrecognized message",
	169: "invalid argument",
	172: "value out of range",
	175: "command not valid in current mode",
	180: "protected setting",
	195: "channel not a flow controller",
}

func (e *NAKError) Error() string {
	desc, ok := nakDesc[e.Code]
	if !ok {
		desc = "unknown error"
	}
	return fmt.Sprintf("flow: %s: NAK%d (%s)", e.Cmd, e.Code, desc)
}

// ValveMode is the control mode of a channel's valve.
type ValveMode string

const (
	ValveOpen     ValveMode = "OPEN"
	ValveClose    ValveMode = "CLOSE"
	ValveSetpoint ValveMode = "SETPOINT"
)

// ParseValveMode accepts the mode names in any case.
func ParseValveMode(s string) (ValveMode, error) {
	switch m := ValveMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ValveOpen, ValveClose, ValveSetpoint:
		return m, nil
	}
	return "", fmt.Errorf("invalid valve mode %q", s)
}

// Controller is a flow controller.
type Controller struct {
	h    mmwave.Handle
	addr int
}

// New returns a flow controller at the default address.
func New(h mmwave.Handle) *Controller {
	return &Controller{h: h, addr: DefaultAddress}
}

// WithAddress returns a copy addressing device addr (1-253).
func (c *Controller) WithAddress(addr int) (*Controller, error) {
	if addr < 1 || addr > 253 {
		return nil, errors.Errorf("flow: invalid device address %d", addr)
	}
	return &Controller{h: c.h, addr: addr}, nil
}

// Handle returns the underlying connection.
func (c *Controller) Handle() mmwave.Handle { return c.h }

func (c *Controller) do(cmd string) (string, error) {
	frame := fmt.Sprintf("@%03d%s;FF", c.addr, cmd)
	r, err := c.h.Query(frame)
	if err != nil {
		return "", errors.Wrapf(err, "flow: %s", cmd)
	}
	r = strings.TrimSuffix(strings.TrimSpace(r), ";FF")
	prefix := fmt.Sprintf("@%03d", c.addr)
	if !strings.HasPrefix(r, prefix) {
		return "", errors.Errorf("flow: %s: reply from wrong address %q", cmd, r)
	}
	r = r[len(prefix):]
	switch {
	case strings.HasPrefix(r, "ACK"):
		return r[len("ACK"):], nil
	case strings.HasPrefix(r, "NAK"):
		code, err := strconv.Atoi(r[len("NAK"):])
		if err != nil {
			return "", errors.Errorf("flow: %s: malformed NAK %q", cmd, r)
		}
		return "", &NAKError{Code: code, Cmd: cmd}
	}
	return "", errors.Errorf("flow: %s: malformed reply %q", cmd, r)
}

func checkChannel(ch int) error {
	if ch < 1 || ch > 6 {
		return errors.Errorf("flow: invalid channel %d", ch)
	}
	return nil
}

func (c *Controller) readFloat(cmd string) (float64, error) {
	r, err := c.do(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(r, 64)
	return v, errors.Wrapf(err, "flow: %s", cmd)
}

// Flow reads the actual flow of channel ch in sccm.
func (c *Controller) Flow(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return c.readFloat(fmt.Sprintf("FR%d?", ch))
}

// Setpoint reads the flow setpoint of channel ch in sccm.
func (c *Controller) Setpoint(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return c.readFloat(fmt.Sprintf("QSP%d?", ch))
}

// SetSetpoint sets the flow setpoint of channel ch in sccm.
func (c *Controller) SetSetpoint(ch int, sccm float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if sccm < 0 {
		return errors.Errorf("flow: negative setpoint %g", sccm)
	}
	_, err := c.do(fmt.Sprintf("QSP%d!%s", ch, strconv.FormatFloat(sccm, 'E', 2, 64)))
	return err
}

// Valve reads the valve mode of channel ch.
func (c *Controller) Valve(ch int) (ValveMode, error) {
	if err := checkChannel(ch); err != nil {
		return "", err
	}
	r, err := c.do(fmt.Sprintf("QMD%d?", ch))
	if err != nil {
		return "", err
	}
	return ParseValveMode(r)
}

// SetValve sets the valve mode of channel ch.
func (c *Controller) SetValve(ch int, m ValveMode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if _, err := ParseValveMode(string(m)); err != nil {
		return errors.Wrap(err, "flow")
	}
	_, err := c.do(fmt.Sprintf("QMD%d!%s", ch, m))
	return err
}
