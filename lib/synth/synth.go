// Package synth drives an Agilent/Keysight E8257D-class microwave
// synthesizer over SCPI.
package synth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/mmwave"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Output limits of the synthesizer itself, before any multiplier chain.
const (
	MinFreqMHz = 0.25
	MaxFreqMHz = 67000.0
	MinPower   = -130.0
	MaxPower   = 25.0
)

// Synth is a microwave synthesizer.
type Synth struct {
	h mmwave.Handle
}

// New returns a synthesizer talking over h.
func New(h mmwave.Handle) *Synth {
	return &Synth{h: h}
}

// Handle returns the underlying connection.
func (s *Synth) Handle() mmwave.Handle { return s.h }

func (s *Synth) ID() (string, error) {
	return query.String(s.h, "*IDN?")
}

// SetFrequency sets the CW output frequency in MHz.
func (s *Synth) SetFrequency(mhz float64) error {
	if mhz < MinFreqMHz || mhz > MaxFreqMHz {
		return errors.Errorf("synth: frequency %g MHz outside %g-%g MHz", mhz, MinFreqMHz, MaxFreqMHz)
	}
	return errors.Wrap(s.h.Send("FREQ:CW "+fmtFloat(mhz)+"MHZ"), "synth: set frequency")
}

// Frequency returns the CW output frequency in MHz.
func (s *Synth) Frequency() (float64, error) {
	hz, err := query.Float64(s.h, "FREQ:CW?")
	if err != nil {
		return 0, errors.Wrap(err, "synth: read frequency")
	}
	return hz / 1e6, nil
}

// SetPower sets the output amplitude in dBm.
func (s *Synth) SetPower(dbm float64) error {
	if dbm < MinPower || dbm > MaxPower {
		return errors.Errorf("synth: power %g dBm outside %g to %g dBm", dbm, MinPower, MaxPower)
	}
	return errors.Wrap(s.h.Send("POW:AMPL "+fmtFloat(dbm)+"DBM"), "synth: set power")
}

// Power returns the output amplitude in dBm.
func (s *Synth) Power() (float64, error) {
	p, err := query.Float64(s.h, "POW:AMPL?")
	return p, errors.Wrap(err, "synth: read power")
}

// SetOutput switches the RF output.
func (s *Synth) SetOutput(on bool) error {
	return errors.Wrap(s.h.Send("OUTP "+onOff(on)), "synth: set output")
}

// Output reports whether the RF output is on.
func (s *Synth) Output() (bool, error) {
	return s.readBool("OUTP?")
}

func (s *Synth) readBool(cmd string) (bool, error) {
	r, err := s.h.Query(cmd)
	if err != nil {
		return false, errors.Wrapf(err, "synth: %s", cmd)
	}
	b, err := parseBool(r)
	return b, errors.Wrapf(err, "synth: %s", cmd)
}

func parseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ON", "+1":
		return true, nil
	case "0", "OFF", "+0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean reply %q", s)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
