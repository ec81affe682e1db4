package synth

import (
	"fmt"
	"strings"

	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// ModMode selects the internal modulation of the synthesizer.
type ModMode int

const (
	ModNone ModMode = iota
	ModAM
	ModFM
)

func (m ModMode) String() string {
	switch m {
	case ModNone:
		return "none"
	case ModAM:
		return "AM"
	case ModFM:
		return "FM"
	default:
		return fmt.Sprintf("ModMode(%d)", int(m))
	}
}

// Letter is the single-letter code stored in .lwa headers.
func (m ModMode) Letter() string {
	switch m {
	case ModAM:
		return "A"
	case ModFM:
		return "F"
	}
	return "N"
}

// ParseModMode accepts "none", "AM", "FM" or the single-letter codes.
func ParseModMode(s string) (ModMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "N", "NONE", "OFF":
		return ModNone, nil
	case "A", "AM":
		return ModAM, nil
	case "F", "FM":
		return ModFM, nil
	}
	return ModNone, fmt.Errorf("invalid modulation mode: %s", s)
}

// Modulation is a complete internal modulation setting.
type Modulation struct {
	Mode    ModMode
	RateKHz float64
	// Depth is percent for AM and peak deviation in kHz for FM, both at the
	// synthesizer output.
	Depth float64
}

// Validate checks the setting against the synthesizer's ranges.
func (m Modulation) Validate() error {
	switch m.Mode {
	case ModNone:
		return nil
	case ModAM:
		if m.Depth < 0 || m.Depth > 100 {
			return errors.Errorf("AM depth %g%% outside 0-100%%", m.Depth)
		}
	case ModFM:
		if m.Depth <= 0 || m.Depth > 10000 {
			return errors.Errorf("FM deviation %g kHz outside 0-10000 kHz", m.Depth)
		}
	default:
		return errors.Errorf("unknown modulation mode %d", int(m.Mode))
	}
	if m.RateKHz <= 0 || m.RateKHz > 1000 {
		return errors.Errorf("modulation rate %g kHz outside 0-1000 kHz", m.RateKHz)
	}
	return nil
}

// SetModulation applies m. The other modulation path is switched off before
// the new one is configured, and the modulation output is enabled last.
func (s *Synth) SetModulation(m Modulation) error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "synth")
	}
	var cmds []string
	switch m.Mode {
	case ModNone:
		cmds = []string{"AM1:STAT OFF", "FM1:STAT OFF", "OUTP:MOD OFF"}
	case ModAM:
		cmds = []string{
			"FM1:STAT OFF",
			"AM1:SOUR INT",
			"AM1:INT:FREQ " + fmtFloat(m.RateKHz) + "KHZ",
			"AM1 " + fmtFloat(m.Depth) + "PCT",
			"AM1:STAT ON",
			"OUTP:MOD ON",
		}
	case ModFM:
		cmds = []string{
			"AM1:STAT OFF",
			"FM1:SOUR INT",
			"FM1:INT:FREQ " + fmtFloat(m.RateKHz) + "KHZ",
			"FM1 " + fmtFloat(m.Depth) + "KHZ",
			"FM1:STAT ON",
			"OUTP:MOD ON",
		}
	}
	for _, cmd := range cmds {
		if err := s.h.Send(cmd); err != nil {
			return errors.Wrapf(err, "synth: %s", cmd)
		}
	}
	return nil
}

// Modulation reads back the active modulation.
func (s *Synth) Modulation() (Modulation, error) {
	am, err := s.readBool("AM1:STAT?")
	if err != nil {
		return Modulation{}, err
	}
	fm, err := s.readBool("FM1:STAT?")
	if err != nil {
		return Modulation{}, err
	}
	var m Modulation
	var rateHz float64
	switch {
	case fm:
		m.Mode = ModFM
		if rateHz, err = query.Float64(s.h, "FM1:INT:FREQ?"); err != nil {
			return m, errors.Wrap(err, "synth: read FM rate")
		}
		dev, err := query.Float64(s.h, "FM1?")
		if err != nil {
			return m, errors.Wrap(err, "synth: read FM deviation")
		}
		m.Depth = dev / 1e3
	case am:
		m.Mode = ModAM
		if rateHz, err = query.Float64(s.h, "AM1:INT:FREQ?"); err != nil {
			return m, errors.Wrap(err, "synth: read AM rate")
		}
		if m.Depth, err = query.Float64(s.h, "AM1?"); err != nil {
			return m, errors.Wrap(err, "synth: read AM depth")
		}
	default:
		return m, nil
	}
	m.RateKHz = rateHz / 1e3
	return m, nil
}
