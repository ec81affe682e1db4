// Package gauge reads vacuum gauge controllers speaking the Leybold
// CENTER TWO / Pfeiffer TPG serial protocol. Every request is acknowledged
// with ACK and the reply is fetched by sending ENQ.
package gauge

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gotmc/mmwave"
	"github.com/pkg/errors"
)

// Control characters of the protocol.
const (
	ACK = "\x06"
	NAK = "\x15"
	ENQ = "\x05"
)

// ErrNAK is returned when the controller rejects a command.
var ErrNAK = errors.New("gauge: command rejected (NAK)")

// Status is the sensor status code returned with a pressure reading.
type Status int

const (
	StatusOK Status = iota
	StatusUnderrange
	StatusOverrange
	StatusSensorError
	StatusSensorOff
	StatusNoSensor
	StatusIDError
)

var statusDesc = map[Status]string{
	StatusOK:          "ok",
	StatusUnderrange:  "underrange",
	StatusOverrange:   "overrange",
	StatusSensorError: "sensor error",
	StatusSensorOff:   "sensor off",
	StatusNoSensor:    "no sensor",
	StatusIDError:     "identification error",
}

func (s Status) String() string {
	if d, ok := statusDesc[s]; ok {
		return d
	}
	return fmt.Sprintf("status %d", int(s))
}

// StatusError is returned for readings with a non-zero status. Value holds
// whatever the controller reported, which is meaningful for under- and
// overrange.
type StatusError struct {
	Channel int
	Status  Status
	Value   float64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gauge: channel %d: %s", e.Channel, e.Status)
}

// Gauge is a gauge controller.
type Gauge struct {
	h mmwave.Handle
}

// New returns a gauge controller talking over h.
func New(h mmwave.Handle) *Gauge {
	return &Gauge{h: h}
}

// Handle returns the underlying connection.
func (g *Gauge) Handle() mmwave.Handle { return g.h }

// request sends a mnemonic, checks the acknowledgement and fetches the
// reply with ENQ.
func (g *Gauge) request(mnemonic string) (string, error) {
	ack, err := g.h.Query(mnemonic)
	if err != nil {
		return "", errors.Wrapf(err, "gauge: %s", mnemonic)
	}
	switch ack {
	case ACK:
	case NAK:
		return "", errors.Wrapf(ErrNAK, "gauge: %s", mnemonic)
	default:
		return "", errors.Errorf("gauge: %s: unexpected acknowledgement %q", mnemonic, ack)
	}
	// ENQ goes out bare when the transport allows it
	if w, ok := g.h.(io.Writer); ok {
		if _, err := w.Write([]byte(ENQ)); err != nil {
			return "", errors.Wrapf(err, "gauge: %s: ENQ", mnemonic)
		}
	} else if err := g.h.Send(ENQ); err != nil {
		return "", errors.Wrapf(err, "gauge: %s: ENQ", mnemonic)
	}
	r, err := g.h.Recv()
	return r, errors.Wrapf(err, "gauge: %s: reply", mnemonic)
}

// Pressure reads channel ch (1-based) in the controller's current unit.
func (g *Gauge) Pressure(ch int) (float64, error) {
	if ch < 1 || ch > 6 {
		return 0, errors.Errorf("gauge: invalid channel %d", ch)
	}
	r, err := g.request("PR" + strconv.Itoa(ch))
	if err != nil {
		return 0, err
	}
	st, v, err := parseReading(r)
	if err != nil {
		return 0, errors.Wrapf(err, "gauge: channel %d", ch)
	}
	if st != StatusOK {
		return v, &StatusError{Channel: ch, Status: st, Value: v}
	}
	return v, nil
}

func parseReading(r string) (Status, float64, error) {
	code, value, ok := strings.Cut(r, ",")
	if !ok {
		return 0, 0, errors.Errorf("malformed reading %q", r)
	}
	st, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return 0, 0, errors.Errorf("malformed status in %q", r)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, 0, errors.Errorf("malformed value in %q", r)
	}
	return Status(st), v, nil
}

// Unit returns the display unit of the controller.
func (g *Gauge) Unit() (Unit, error) {
	r, err := g.request("UNI")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil || n < int(Mbar) || n > int(Pascal) {
		return 0, errors.Errorf("gauge: invalid unit reply %q", r)
	}
	return Unit(n), nil
}

// SetUnit changes the display unit of the controller.
func (g *Gauge) SetUnit(u Unit) error {
	if u < Mbar || u > Pascal {
		return errors.Errorf("gauge: invalid unit %d", int(u))
	}
	_, err := g.request(fmt.Sprintf("UNI,%d", int(u)))
	return err
}

// PressureIn reads channel ch and converts it to unit to.
func (g *Gauge) PressureIn(ch int, to Unit) (float64, error) {
	from, err := g.Unit()
	if err != nil {
		return 0, err
	}
	p, err := g.Pressure(ch)
	if err != nil {
		return 0, err
	}
	return Convert(p, from, to), nil
}
